package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"wagerlane/pkg/disputepack"
	"wagerlane/pkg/proofhash"
	"wagerlane/sdk/go/wagerlane"
)

const usage = `usage:
  wagerctl challenge register --challenger <id> --challenged <id> --stake <money> --due <rfc3339> [--id <challenge_id>]
  wagerctl proof submit --challenge <id> --submitter <id> --file <path> [--uri <content_uri>]
  wagerctl proof list --challenge <id>
  wagerctl proof hash --file <path> [--uri <content_uri>]
  wagerctl vote cast --challenge <id> --voter <id> --choice <CHALLENGER|CHALLENGED> --proof-hash <sha256>
  wagerctl dispute open --challenge <id> --by <participant_id>
  wagerctl settlement get --challenge <id>
  wagerctl pack verify --pack <path>`

func main() {
	if len(os.Args) < 3 {
		fail(usage)
		os.Exit(2)
	}
	switch os.Args[1] + " " + os.Args[2] {
	case "challenge register":
		runChallengeRegister(os.Args[3:])
	case "proof submit":
		runProofSubmit(os.Args[3:])
	case "proof list":
		runProofList(os.Args[3:])
	case "proof hash":
		runProofHash(os.Args[3:])
	case "vote cast":
		runVoteCast(os.Args[3:])
	case "dispute open":
		runDisputeOpen(os.Args[3:])
	case "settlement get":
		runSettlementGet(os.Args[3:])
	case "pack verify":
		runPackVerify(os.Args[3:])
	default:
		fail(usage)
		os.Exit(2)
	}
}

func client() *wagerlane.Client {
	base := os.Getenv("WAGERLANE_BASE_URL")
	if base == "" {
		base = "http://localhost:8085"
	}
	return wagerlane.NewClient(base)
}

func runChallengeRegister(args []string) {
	fs := flag.NewFlagSet("challenge register", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	challengeID := fs.String("id", "", "challenge id (generated when omitted)")
	challenger := fs.String("challenger", "", "challenger participant id")
	challenged := fs.String("challenged", "", "challenged participant id")
	stake := fs.String("stake", "", "stake, e.g. \"USD 25.00\"")
	due := fs.String("due", "", "voting deadline, RFC3339")
	parseFlags(fs, args)
	requireFlags(map[string]string{"challenger": *challenger, "challenged": *challenged, "stake": *stake, "due": *due})

	dueAt, err := time.Parse(time.RFC3339, *due)
	if err != nil {
		fail("parse --due: " + err.Error())
		os.Exit(2)
	}
	ch, err := client().RegisterChallenge(context.Background(), wagerlane.NewChallenge{
		ChallengeID:  *challengeID,
		ChallengerID: *challenger,
		ChallengedID: *challenged,
		Stake:        *stake,
		DueAt:        dueAt,
	}, wagerlane.NewIdempotencyKey())
	exitOn(err)
	printJSON(ch.Raw)
}

func runProofSubmit(args []string) {
	fs := flag.NewFlagSet("proof submit", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	challengeID := fs.String("challenge", "", "challenge id")
	submitter := fs.String("submitter", "", "submitter participant id")
	filePath := fs.String("file", "", "path to proof content file")
	contentURI := fs.String("uri", "", "content_uri (defaults to file://<path>)")
	parseFlags(fs, args)
	requireFlags(map[string]string{"challenge": *challengeID, "submitter": *submitter, "file": *filePath})

	content, err := os.ReadFile(*filePath)
	if err != nil {
		fail("read file failed: " + err.Error())
		os.Exit(1)
	}
	uri := strings.TrimSpace(*contentURI)
	if uri == "" {
		uri = "file://" + *filePath
	}
	p, err := client().SubmitProof(context.Background(), *challengeID, wagerlane.ProofInput{
		SubmitterID: *submitter,
		ContentURI:  uri,
		ContentHash: proofhash.SumBytes(content),
	}, wagerlane.NewIdempotencyKey())
	exitOn(err)
	printJSON(p.Raw)
}

func runProofList(args []string) {
	fs := flag.NewFlagSet("proof list", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	challengeID := fs.String("challenge", "", "challenge id")
	parseFlags(fs, args)
	requireFlags(map[string]string{"challenge": *challengeID})

	proofs, err := client().ListProofs(context.Background(), *challengeID)
	exitOn(err)
	printJSON(proofs)
}

func runProofHash(args []string) {
	fs := flag.NewFlagSet("proof hash", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	filePath := fs.String("file", "", "path to proof content file")
	contentURI := fs.String("uri", "", "content_uri to echo in the output")
	parseFlags(fs, args)
	requireFlags(map[string]string{"file": *filePath})

	content, err := os.ReadFile(*filePath)
	if err != nil {
		fail("read file failed: " + err.Error())
		os.Exit(1)
	}
	uri := strings.TrimSpace(*contentURI)
	if uri == "" {
		uri = "file://" + *filePath
	}
	printJSON(map[string]any{
		"content_hash": proofhash.SumBytes(content),
		"content_uri":  uri,
		"bytes":        len(content),
	})
}

func runVoteCast(args []string) {
	fs := flag.NewFlagSet("vote cast", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	challengeID := fs.String("challenge", "", "challenge id")
	voter := fs.String("voter", "", "voter participant id")
	choice := fs.String("choice", "", "CHALLENGER or CHALLENGED")
	proofHash := fs.String("proof-hash", "", "referenced proof content hash")
	parseFlags(fs, args)
	requireFlags(map[string]string{"challenge": *challengeID, "voter": *voter, "choice": *choice, "proof-hash": *proofHash})

	v, err := client().CastVote(context.Background(), *challengeID, wagerlane.VoteInput{
		VoterID:             *voter,
		Choice:              *choice,
		ReferencedProofHash: *proofHash,
	}, wagerlane.NewIdempotencyKey())
	exitOn(err)
	printJSON(v.Raw)
}

func runDisputeOpen(args []string) {
	fs := flag.NewFlagSet("dispute open", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	challengeID := fs.String("challenge", "", "challenge id")
	openedBy := fs.String("by", "", "participant opening the dispute")
	parseFlags(fs, args)
	requireFlags(map[string]string{"challenge": *challengeID, "by": *openedBy})

	d, err := client().OpenDispute(context.Background(), *challengeID, *openedBy, wagerlane.NewIdempotencyKey())
	exitOn(err)
	printJSON(d.Raw)
}

func runSettlementGet(args []string) {
	fs := flag.NewFlagSet("settlement get", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	challengeID := fs.String("challenge", "", "challenge id")
	parseFlags(fs, args)
	requireFlags(map[string]string{"challenge": *challengeID})

	s, err := client().Settlement(context.Background(), *challengeID)
	exitOn(err)
	printJSON(s.Raw)
}

func runPackVerify(args []string) {
	fs := flag.NewFlagSet("pack verify", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	packPath := fs.String("pack", "", "path to dispute evidence pack json")
	parseFlags(fs, args)
	requireFlags(map[string]string{"pack": *packPath})

	packBytes, err := os.ReadFile(*packPath)
	if err != nil {
		fail("read pack failed: " + err.Error())
		os.Exit(1)
	}

	var pack struct {
		Challenge struct {
			ChallengeID string `json:"challenge_id"`
		} `json:"challenge"`
		Hashes struct {
			PackHash     string `json:"pack_hash"`
			ManifestHash string `json:"manifest_hash"`
		} `json:"hashes"`
	}
	_ = json.Unmarshal(packBytes, &pack)

	result, err := disputepack.VerifyPackJSON(packBytes)
	if err != nil {
		fail(err.Error())
		os.Exit(1)
	}
	summary := map[string]any{
		"status":        result.Status,
		"challenge_id":  pack.Challenge.ChallengeID,
		"pack_hash":     pack.Hashes.PackHash,
		"manifest_hash": pack.Hashes.ManifestHash,
	}
	if len(result.Details) > 0 {
		summary["details"] = result.Details
	}
	printJSON(summary)
	if result.Status != disputepack.StatusVerified {
		os.Exit(1)
	}
}

func parseFlags(fs *flag.FlagSet, args []string) {
	if err := fs.Parse(args); err != nil {
		fail(err.Error())
		os.Exit(2)
	}
}

func requireFlags(flags map[string]string) {
	for name, v := range flags {
		if strings.TrimSpace(v) == "" {
			fail("--" + name + " is required")
			os.Exit(2)
		}
	}
}

func exitOn(err error) {
	if err == nil {
		return
	}
	fail(err.Error())
	os.Exit(1)
}

func printJSON(v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fail(err.Error())
		os.Exit(1)
	}
	fmt.Println(string(b))
}

func fail(reason string) {
	fmt.Fprintln(os.Stderr, reason)
}
