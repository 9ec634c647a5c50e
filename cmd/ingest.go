package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	apperrors "github.com/camden-git/supplierresolver/errors"
	"github.com/camden-git/supplierresolver/logging"
	"github.com/camden-git/supplierresolver/resolver"
)

// maxLineBytes bounds one JSONL record.
const maxLineBytes = 1 << 20

var ingestBatchSize int

var ingestCmd = &cobra.Command{
	Use:   "ingest <file.jsonl|->",
	Short: "Resolve a file of mentions, one JSON object per line",
	Example: `  supplierd ingest mentions.jsonl
  cat mentions.jsonl | supplierd ingest -

Each line looks like:
  {"raw_name":"Acme Corp.","source":"email","linked_record_id":"PO-1001"}`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().IntVar(&ingestBatchSize, "batch-size", 500, "mentions handed to the worker pool at a time")
	rootCmd.AddCommand(ingestCmd)
}

// lineError is a JSONL record that could not be decoded.
type lineError struct {
	Line int
	Err  error
}

// readMentions decodes a JSONL stream. Blank lines are skipped; undecodable
// lines are reported and do not stop the scan.
func readMentions(r io.Reader) ([]resolver.Mention, []int, []lineError, error) {
	var (
		mentions []resolver.Mention
		lines    []int
		bad      []lineError
	)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var m resolver.Mention
		if err := json.Unmarshal([]byte(text), &m); err != nil {
			bad = append(bad, lineError{Line: lineNo, Err: err})
			continue
		}
		mentions = append(mentions, m)
		lines = append(lines, lineNo)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to read mentions at line %d: %w", lineNo+1, err)
	}
	return mentions, lines, bad, nil
}

// ingestSummary is printed once the whole file has been resolved.
type ingestSummary struct {
	Lines     int                       `json:"lines"`
	Decisions map[resolver.Decision]int `json:"decisions"`
	Invalid   int                       `json:"invalid"`
	Failed    int                       `json:"failed"`
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	log := logging.Component("ingest")

	var in io.Reader = cmd.InOrStdin()
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", args[0], err)
		}
		defer f.Close()
		in = f
	}

	mentions, lines, bad, err := readMentions(in)
	if err != nil {
		return err
	}
	for _, b := range bad {
		log.Warn().Int("line", b.Line).Err(b.Err).Msg("skipping undecodable line")
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	summary := ingestSummary{
		Lines:     len(mentions) + len(bad),
		Decisions: make(map[resolver.Decision]int),
		Failed:    len(bad),
	}
	size := ingestBatchSize
	if size <= 0 {
		size = len(mentions)
	}
	for start := 0; start < len(mentions); start += size {
		end := min(start+size, len(mentions))
		for _, res := range a.pool.IngestBatch(ctx, mentions[start:end]) {
			line := lines[start+res.Index]
			switch {
			case res.Err == nil:
				summary.Decisions[res.Resolution.Decision]++
			case apperrors.Is(res.Err, apperrors.ErrInvalidMention):
				summary.Invalid++
				log.Warn().Int("line", line).Err(res.Err).Msg("invalid mention")
			default:
				summary.Failed++
				log.Error().Int("line", line).Err(res.Err).Msg("mention failed")
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}
