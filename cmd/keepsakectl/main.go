// Package main is the operator CLI: it mints development actor tokens,
// verifies audit chains and prunes audit events past retention.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"keepsake/internal/audit/chain"
	auditservice "keepsake/internal/audit/service"
	auditstore "keepsake/internal/audit/store"
	jwttoken "keepsake/internal/jwt_token"
	"keepsake/internal/platform/config"
	"keepsake/internal/platform/database"
	"keepsake/internal/platform/logger"
	id "keepsake/pkg/domain"
)

type tokenOutput struct {
	Token     string            `json:"token"`
	ExpiresIn string            `json:"expires_in"`
	Claims    map[string]string `json:"claims"`
}

func main() {
	tokenCmd := flag.NewFlagSet("token", flag.ExitOnError)
	tokenSubject := tokenCmd.String("subject", "", "Subject ID (UUID). Generated if empty.")
	tokenActor := tokenCmd.String("actor", string(id.ActorSubject), "Actor type: subject, caregiver or staff")
	tokenRegion := tokenCmd.String("region", "", "Residency region. Defaults to KEEPSAKE_REGION.")
	tokenTTL := tokenCmd.Duration("ttl", 0, "Token time-to-live. Defaults to TOKEN_TTL.")
	tokenJSON := tokenCmd.Bool("json", false, "Output as JSON")

	verifyCmd := flag.NewFlagSet("verify", flag.ExitOnError)
	verifyStream := verifyCmd.String("stream", "", "Stream ID, e.g. subject:<uuid> or device:<id>")
	verifyFrom := verifyCmd.Int64("from", 1, "First seq to check")
	verifyTo := verifyCmd.Int64("to", 0, "Last seq to check; 0 means the head")

	pruneCmd := flag.NewFlagSet("prune-audit", flag.ExitOnError)
	pruneRegion := pruneCmd.String("region", "", "Region partition to prune")
	pruneBefore := pruneCmd.String("before", "", "RFC 3339 cutoff. Defaults to now minus AUDIT_RETENTION.")

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fail("config: %v", err)
	}
	ctx := context.Background()

	switch os.Args[1] {
	case "token":
		tokenCmd.Parse(os.Args[2:]) //nolint:errcheck // ExitOnError
		issueToken(ctx, cfg, *tokenSubject, *tokenActor, *tokenRegion, *tokenTTL, *tokenJSON)
	case "verify":
		verifyCmd.Parse(os.Args[2:]) //nolint:errcheck // ExitOnError
		verifyStreamChain(ctx, cfg, *verifyStream, *verifyFrom, *verifyTo)
	case "prune-audit":
		pruneCmd.Parse(os.Args[2:]) //nolint:errcheck // ExitOnError
		pruneAudit(ctx, cfg, *pruneRegion, *pruneBefore)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`keepsakectl - operator tooling for keepsake

Usage:
  keepsakectl <command> [flags]

Commands:
  token         Mint an actor token signed with JWT_SIGNING_KEY
  verify        Verify the hash chain of one audit stream (postgres backend)
  prune-audit   Remove audit events older than the retention period (postgres backend)

Examples:
  keepsakectl token -actor caregiver -region uk
  keepsakectl verify -stream subject:550e8400-e29b-41d4-a716-446655440000
  keepsakectl prune-audit -region eu

Use "keepsakectl <command> -h" for more information about a command.`)
}

func issueToken(ctx context.Context, cfg config.Config, subject, actor, region string, ttl time.Duration, jsonOutput bool) {
	sid := id.SubjectID(uuid.New())
	if subject != "" {
		parsed, err := id.ParseSubjectID(subject)
		if err != nil {
			fail("invalid subject: %v", err)
		}
		sid = parsed
	}
	if region == "" {
		region = cfg.Server.Region
	}
	if ttl <= 0 {
		ttl = cfg.Auth.TokenTTL
	}

	svc := jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.Issuer, cfg.Auth.Audience, ttl)
	token, err := svc.Issue(ctx, sid, id.ActorType(actor), id.NormalizeRegion(region))
	if err != nil {
		fail("issue token: %v", err)
	}

	if jsonOutput {
		printJSON(tokenOutput{
			Token:     token,
			ExpiresIn: ttl.String(),
			Claims: map[string]string{
				"sub":        sid.String(),
				"actor_type": actor,
				"region":     region,
			},
		})
		return
	}
	fmt.Printf("Subject:    %s\n", sid)
	fmt.Printf("Actor:      %s\n", actor)
	fmt.Printf("Region:     %s\n", region)
	fmt.Printf("Expires In: %s\n", ttl)
	fmt.Println()
	fmt.Println(token)
}

func openAudit(cfg config.Config) (*auditservice.Service, func()) {
	if cfg.Database.URL == "" {
		fail("DATABASE_URL is required")
	}
	pool, err := database.New(cfg.Database)
	if err != nil {
		fail("open database: %v", err)
	}
	hasher, err := chain.NewHasher(cfg.Audit.HashAlgorithm)
	if err != nil {
		fail("%v", err)
	}
	st := auditstore.NewPostgres(pool.DB())
	svc := auditservice.New(st, auditservice.NewChainWriter(st, hasher),
		auditservice.WithRetention(cfg.Audit.Retention),
		auditservice.WithLogger(logger.New(cfg.Log.Level)),
	)
	return svc, func() { _ = pool.Close() }
}

func verifyStreamChain(ctx context.Context, cfg config.Config, stream string, from, to int64) {
	sid, err := id.ParseStreamID(stream)
	if err != nil {
		fail("invalid stream: %v", err)
	}
	svc, closeDB := openAudit(cfg)
	defer closeDB()

	res, err := svc.Verify(ctx, sid, from, to)
	if err != nil {
		fail("verify: %v", err)
	}
	printJSON(res)
	if !res.Valid {
		os.Exit(2)
	}
}

func pruneAudit(ctx context.Context, cfg config.Config, region, before string) {
	r := id.NormalizeRegion(region)
	if r.IsZero() {
		fail("-region is required")
	}
	cutoff := time.Now().Add(-cfg.Audit.Retention)
	if before != "" {
		parsed, err := time.Parse(time.RFC3339, before)
		if err != nil {
			fail("invalid -before: %v", err)
		}
		cutoff = parsed
	}
	svc, closeDB := openAudit(cfg)
	defer closeDB()

	n, err := svc.PruneBefore(ctx, r, cutoff)
	if err != nil {
		fail("prune: %v", err)
	}
	fmt.Printf("Pruned %d events from %s before %s\n", n, r, cutoff.Format(time.RFC3339))
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fail("encode JSON: %v", err)
	}
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
