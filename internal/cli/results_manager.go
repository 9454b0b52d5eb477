package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dyike/CortexThesis/consts"
	"github.com/dyike/CortexThesis/models"
)

// ResultsManager writes finished reports under the results directory, one
// folder per ticker.
type ResultsManager struct {
	resultsDir string
	now        func() time.Time
}

func NewResultsManager(resultsDir string) *ResultsManager {
	return &ResultsManager{resultsDir: resultsDir, now: time.Now}
}

// Save writes st as a markdown report and a JSON state dump and returns the
// markdown path.
func (rm *ResultsManager) Save(st *models.State) (string, error) {
	dir := filepath.Join(rm.resultsDir, st.Ticker)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create results directory %s: %w", dir, err)
	}
	stamp := rm.now().UTC().Format("20060102T150405Z")
	base := fmt.Sprintf("%s_%s_%s_%s", st.Ticker, st.TradeDuration, st.TradeDirection, stamp)

	mdPath := filepath.Join(dir, base+".md")
	if err := os.WriteFile(mdPath, []byte(Markdown(st)), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", mdPath, err)
	}

	raw, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode state: %w", err)
	}
	jsonPath := filepath.Join(dir, base+".json")
	if err := os.WriteFile(jsonPath, raw, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", jsonPath, err)
	}
	return mdPath, nil
}

// Markdown renders the plain report without terminal styling.
func Markdown(st *models.State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s thesis (%s %s)\n\n", st.Ticker, st.TradeDirection, st.TradeDuration)
	if ind := st.IndustryName(); ind != "" {
		fmt.Fprintf(&b, "- Industry: %s\n", ind)
	}
	if biz := st.BusinessName(); biz != "" {
		fmt.Fprintf(&b, "- Business: %s\n", biz)
	}
	fmt.Fprintf(&b, "- Compliant: %t\n- Revisions: %d\n", st.Compliant, st.RevisionIterationCount)
	if st.Metrics != nil {
		fmt.Fprintf(&b, "- Tokens: %d\n", st.Metrics.TotalTokens)
	}

	b.WriteString("\n## Combined thesis\n\n")
	b.WriteString(strings.TrimSpace(st.CombinedSentiment))
	b.WriteString("\n")

	for _, br := range consts.Branches {
		text, ok := st.Sentiment(br)
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "\n## %s\n\n%s\n", strings.ToUpper(br.String()[:1])+br.String()[1:], strings.TrimSpace(text))
	}
	return b.String()
}
