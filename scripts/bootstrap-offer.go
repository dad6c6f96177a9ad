package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/tgcpa/tgcpa/internal/auth"
	"github.com/tgcpa/tgcpa/internal/model"
	"github.com/tgcpa/tgcpa/internal/postback"
	"github.com/tgcpa/tgcpa/internal/repository"
)

type output struct {
	OfferID        string `json:"offer_id,omitempty"`
	Slug           string `json:"slug,omitempty"`
	TrackingURL    string `json:"tracking_url,omitempty"`
	AdminToken     string `json:"admin_token,omitempty"`
	AdminTokenHash string `json:"admin_token_hash,omitempty"`
}

func main() {
	var (
		databaseURL = flag.String("database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string")
		baseURL     = flag.String("base-url", envOr("BASE_URL", "http://localhost:8080"), "Public base URL of tracking links")
		slug        = flag.String("slug", "", "Offer slug (empty to skip offer creation)")
		title       = flag.String("title", "", "Offer title")
		actionType  = flag.String("action", string(model.EventJoinGroup), "Qualifying event type")
		payout      = flag.Int64("payout-cents", 0, "Payout in cents")
		postbackURL = flag.String("postback-url", "", "Advertiser postback URL (empty for dry-run)")
		method      = flag.String("postback-method", "POST", "Postback method: POST or GET")
		secret      = flag.String("postback-secret", "", "Per-offer signing secret (empty to use POSTBACK_SECRET)")
		maxAttempts = flag.Int("max-attempts", postback.DefaultMaxAttempts, "Automatic retry attempt cap")
		allowLocal  = flag.Bool("allow-local", os.Getenv("POSTBACK_ALLOW_LOCAL") == "true", "Allow loopback postback URLs")
		adminToken  = flag.Bool("admin-token", false, "Generate an admin token and its ADMIN_TOKEN_HASH")
		format      = flag.String("format", "plain", "Output format: plain or json")
	)
	flag.Parse()

	var out output

	if *adminToken {
		generated, err := auth.GenerateAdminToken()
		if err != nil {
			fail("generate admin token:", err)
		}
		out.AdminToken = generated.Plaintext
		out.AdminTokenHash = generated.Hash
	}

	if *slug != "" {
		if *databaseURL == "" {
			fail("DATABASE_URL is required")
		}

		et, err := model.ParseEventType(*actionType)
		if err != nil {
			fail(err)
		}
		if *postbackURL != "" {
			if err := postback.ValidateTargetURL(*postbackURL, *allowLocal); err != nil {
				fail("postback url:", err)
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		repo, err := repository.New(ctx, *databaseURL)
		if err != nil {
			fail("connect database:", err)
		}
		defer repo.Close()

		offer := &model.Offer{
			ID:                  ulid.Make().String(),
			Slug:                *slug,
			Title:               firstNonEmpty(*title, *slug),
			ActionType:          et,
			PayoutCents:         *payout,
			PostbackURL:         *postbackURL,
			PostbackMethod:      *method,
			PostbackSecret:      *secret,
			PostbackMaxAttempts: *maxAttempts,
			Active:              true,
		}
		if err := repo.CreateOffer(ctx, offer); err != nil {
			fail("create offer:", err)
		}

		out.OfferID = offer.ID
		out.Slug = offer.Slug
		out.TrackingURL = strings.TrimRight(*baseURL, "/") + "/go/" + offer.Slug
	}

	if out == (output{}) {
		fail("nothing to do: pass -slug and/or -admin-token")
	}

	switch strings.ToLower(*format) {
	case "plain":
		if out.TrackingURL != "" {
			fmt.Println(out.TrackingURL)
		}
		if out.AdminToken != "" {
			fmt.Println("ADMIN_TOKEN=" + out.AdminToken)
			fmt.Println("ADMIN_TOKEN_HASH=" + out.AdminTokenHash)
		}
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
	default:
		fail("invalid format; use plain or json")
	}
}

func fail(args ...any) {
	fmt.Fprintln(os.Stderr, args...)
	os.Exit(1)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
