// Command texttosql drives the query-tree orchestrator against a BIRD/Spider
// style dataset. Three modes — interactive, batch, evaluation — grounded on
// teacher's cmd/eval_bird/main.go flag and exit-code conventions (0 success,
// 1 user error, 2 runtime error).
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/threefoldo/texttosql-go/internal/adapter"
	"github.com/threefoldo/texttosql-go/internal/agent"
	"github.com/threefoldo/texttosql-go/internal/config"
	"github.com/threefoldo/texttosql-go/internal/datasets"
	"github.com/threefoldo/texttosql-go/internal/kvmemory"
	"github.com/threefoldo/texttosql-go/internal/llm"
	"github.com/threefoldo/texttosql-go/internal/obslog"
	"github.com/threefoldo/texttosql-go/internal/orchestrator"
	"github.com/threefoldo/texttosql-go/internal/statuschecker"
	"github.com/tmc/langchaingo/llms"
)

const (
	exitSuccess    = 0
	exitUserError  = 1
	exitRuntimeErr = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout))
}

func run(args []string, stdin io.Reader, stdout io.Writer) int {
	fs := flag.NewFlagSet("texttosql", flag.ContinueOnError)
	mode := fs.String("mode", "interactive", "interactive | batch | evaluation")
	dbID := fs.String("db", "", "database id within --dataset")
	datasetDir := fs.String("dataset", "", "BIRD/Spider dataset root (contains <db>/schema.sql and <db>/<db>.sqlite)")
	limit := fs.Int("limit", 0, "limit the number of examples processed (0 = all, batch/evaluation only)")
	input := fs.String("input", "", "interactive: a file with the question (default: read stdin); batch/evaluation: a dev.json-style example file")
	output := fs.String("output", "", "batch/evaluation: output directory for results.json/predict.sql (default: results/<timestamp>)")
	model := fs.String("model", "deepseek_v3", "llm_config.json model key to use")

	if err := fs.Parse(args); err != nil {
		return exitUserError
	}
	if *dbID == "" || *datasetDir == "" {
		fmt.Fprintln(os.Stderr, "texttosql: --db and --dataset are required")
		return exitUserError
	}

	cfg, err := config.NewLoader().Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "texttosql: loading config: %v\n", err)
		return exitUserError
	}
	llmModel, err := llm.CreateLLMByName(cfg, *model)
	if err != nil {
		fmt.Fprintf(os.Stderr, "texttosql: building LLM client: %v\n", err)
		return exitRuntimeErr
	}

	logger := obslog.NewConsole()

	switch *mode {
	case "interactive":
		return runInteractive(logger, cfg, llmModel, *datasetDir, *dbID, *input, stdin, stdout)
	case "batch":
		return runBatch(logger, cfg, llmModel, *datasetDir, *dbID, *input, *output, *limit, false, stdin)
	case "evaluation":
		return runBatch(logger, cfg, llmModel, *datasetDir, *dbID, *input, *output, *limit, true, stdin)
	default:
		fmt.Fprintf(os.Stderr, "texttosql: unknown --mode %q\n", *mode)
		return exitUserError
	}
}

// taskOutcome is one run of the orchestrator against one example.
type taskOutcome struct {
	QuestionID   int    `json:"question_id"`
	DbID         string `json:"db_id"`
	Question     string `json:"question"`
	GoldSQL      string `json:"gold_sql,omitempty"`
	GeneratedSQL string `json:"generated_sql"`
	Status       string `json:"status"`
	Error        string `json:"error,omitempty"`
	Steps        int    `json:"steps"`
	TimeSeconds  float64 `json:"time_seconds"`
	Report       string `json:"report,omitempty"`
}

func runInteractive(logger *obslog.Logger, cfg *config.Config, llmModel llms.Model, datasetDir, dbID, inputPath string, stdin io.Reader, stdout io.Writer) int {
	question, evidence, err := readQuestion(inputPath, stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "texttosql: reading question: %v\n", err)
		return exitUserError
	}

	outcome := runExample(context.Background(), logger, cfg, llmModel, datasetDir, datasets.Example{
		QuestionID: 1, DbID: dbID, Question: question, Evidence: evidence,
	})

	if outcome.Status != "success" {
		fmt.Fprintf(stdout, "error: %s\n", outcome.Error)
		return exitRuntimeErr
	}
	fmt.Fprintln(stdout, outcome.GeneratedSQL)
	return exitSuccess
}

func runBatch(logger *obslog.Logger, cfg *config.Config, llmModel llms.Model, datasetDir, dbID, inputPath, outputDir string, limit int, evaluation bool, stdin io.Reader) int {
	var examples []datasets.Example
	if inputPath != "" {
		loaded, err := datasets.LoadExamples(inputPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "texttosql: %v\n", err)
			return exitUserError
		}
		examples = loaded
	} else {
		question, evidence, err := readQuestion("", stdin)
		if err != nil {
			fmt.Fprintf(os.Stderr, "texttosql: reading question: %v\n", err)
			return exitUserError
		}
		examples = []datasets.Example{{QuestionID: 1, DbID: dbID, Question: question, Evidence: evidence}}
	}

	for i := range examples {
		if examples[i].DbID == "" {
			examples[i].DbID = dbID
		}
	}
	if limit > 0 && limit < len(examples) {
		examples = examples[:limit]
	}

	if outputDir == "" {
		outputDir = filepath.Join("results", time.Now().Format("20060102_150405"))
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "texttosql: creating output dir: %v\n", err)
		return exitRuntimeErr
	}

	ctx := context.Background()
	outcomes := make([]taskOutcome, 0, len(examples))
	for i, ex := range examples {
		logger.Phase(fmt.Sprintf("example %d/%d: %s", i+1, len(examples), ex.Question))
		outcomes = append(outcomes, runExample(ctx, logger, cfg, llmModel, datasetDir, ex))
	}

	if err := saveOutcomes(outputDir, outcomes); err != nil {
		fmt.Fprintf(os.Stderr, "texttosql: saving results: %v\n", err)
		return exitRuntimeErr
	}

	if evaluation {
		printEvaluationSummary(outcomes)
	}

	for _, o := range outcomes {
		if o.Status != "success" {
			return exitRuntimeErr
		}
	}
	return exitSuccess
}

// runExample wires one task's kvmemory store, managers, DB adapter and
// schema, then drives the orchestrator to completion or a budget/parse
// failure.
func runExample(ctx context.Context, logger *obslog.Logger, cfg *config.Config, llmModel llms.Model, datasetDir string, ex datasets.Example) taskOutcome {
	outcome := taskOutcome{QuestionID: ex.QuestionID, DbID: ex.DbID, Question: ex.Question, GoldSQL: ex.SQL, Status: "error"}
	taskID := fmt.Sprintf("%s-%d", ex.DbID, ex.QuestionID)
	logger.TaskStarted(taskID)
	start := time.Now()
	defer func() {
		outcome.TimeSeconds = time.Since(start).Seconds()
		if outcome.Status == "success" {
			logger.TaskCompleted(taskID, time.Since(start))
		} else {
			logger.TaskFailed(taskID, fmt.Errorf("%s", outcome.Error))
		}
	}()

	dbPath := filepath.Join(datasetDir, ex.DbID, ex.DbID+".sqlite")
	dbAdapter, err := adapter.NewAdapter(&adapter.DBConfig{Type: "sqlite", FilePath: dbPath})
	if err != nil {
		outcome.Error = fmt.Sprintf("create adapter: %v", err)
		return outcome
	}
	if err := dbAdapter.Connect(ctx); err != nil {
		outcome.Error = fmt.Sprintf("connect db: %v", err)
		return outcome
	}
	defer dbAdapter.Close()

	store := kvmemory.New()
	ac := agent.NewContext(store, llmModel, dbAdapter)

	if err := ac.Task.Initialize(taskID, ex.Question, ex.DbID, ex.Evidence); err != nil {
		outcome.Error = fmt.Sprintf("init task context: %v", err)
		return outcome
	}
	if err := ac.History.Initialize(); err != nil {
		outcome.Error = fmt.Sprintf("init history: %v", err)
		return outcome
	}
	if err := ac.Schema.Initialize(); err != nil {
		outcome.Error = fmt.Sprintf("init schema: %v", err)
		return outcome
	}
	reader := datasets.NewBIRDSchemaReader(datasetDir, "")
	if err := ac.Schema.Ingest(ctx, reader, ex.DbID); err != nil {
		outcome.Error = fmt.Sprintf("ingest schema: %v", err)
		return outcome
	}
	ac.Task.MarkAsProcessing()

	checker := statuschecker.New(ac.Tree)
	orch := orchestrator.New(checker, cfg.Orchestrator)

	summary, err := orch.Run(ctx, ac)
	outcome.Steps = summary.Steps
	outcome.Report = summary.FinalReport

	rootSQL, hasRootSQL := rootSQLAnswer(ac)
	if err != nil {
		ac.Task.MarkAsFailed()
		outcome.Error = err.Error()
		if hasRootSQL {
			// Report whatever SQL landed on the root even when the run
			// errored out — a caller can still choose to use it.
			outcome.GeneratedSQL = rootSQL
		}
		return outcome
	}

	ac.Task.MarkAsCompleted()
	outcome.Status = "success"
	outcome.GeneratedSQL = rootSQL
	return outcome
}

func rootSQLAnswer(ac *agent.Context) (string, bool) {
	rootID, err := ac.Tree.GetRootID()
	if err != nil {
		return "", false
	}
	node, ok, err := ac.Tree.GetNode(rootID)
	if err != nil || !ok || node.Generation == nil || node.Generation.SQL == "" {
		return "", false
	}
	return node.Generation.SQL, true
}

func readQuestion(path string, stdin io.Reader) (question, evidence string, err error) {
	var r io.Reader
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return "", "", err
		}
		defer f.Close()
		r = f
	} else {
		r = stdin
	}

	scanner := bufio.NewScanner(r)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return "", "", err
	}
	if len(lines) == 0 {
		return "", "", fmt.Errorf("no question text provided")
	}

	question = strings.TrimSpace(lines[0])
	for _, line := range lines[1:] {
		if rest, ok := strings.CutPrefix(strings.TrimSpace(line), "Evidence:"); ok {
			evidence = strings.TrimSpace(rest)
		}
	}
	return question, evidence, nil
}

func saveOutcomes(outputDir string, outcomes []taskOutcome) error {
	jsonPath := filepath.Join(outputDir, "results.json")
	data, err := json.MarshalIndent(outcomes, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	if err := os.WriteFile(jsonPath, data, 0o644); err != nil {
		return fmt.Errorf("write results.json: %w", err)
	}

	var sqlBuilder strings.Builder
	for _, o := range outcomes {
		sql := strings.ReplaceAll(o.GeneratedSQL, "\n", " ")
		sqlBuilder.WriteString(strings.TrimSpace(sql))
		sqlBuilder.WriteString("\t")
		sqlBuilder.WriteString(o.DbID)
		sqlBuilder.WriteString("\n")
	}
	return os.WriteFile(filepath.Join(outputDir, "predict.sql"), []byte(sqlBuilder.String()), 0o644)
}

func printEvaluationSummary(outcomes []taskOutcome) {
	total := len(outcomes)
	matches := 0
	for _, o := range outcomes {
		if o.GoldSQL != "" && normalizeSQL(o.GeneratedSQL) == normalizeSQL(o.GoldSQL) {
			matches++
		}
	}
	fmt.Printf("evaluation: %d/%d exact SQL matches (%.1f%%)\n", matches, total, percent(matches, total))
}

func normalizeSQL(sql string) string {
	return strings.Join(strings.Fields(strings.ToLower(sql)), " ")
}

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}
