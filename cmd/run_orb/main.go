package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/schollz/progressbar/v3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"orb-backtest/services/arrowpipeline"
	"orb-backtest/services/engine"
	"orb-backtest/strategies"
)

func main() {
	chURL := flag.String("ch-url", "http://localhost:18123", "ClickHouse HTTP URL")
	db := flag.String("db", "backtest", "ClickHouse database")
	table := flag.String("table", "bars", "ClickHouse table")
	symbol := flag.String("symbol", "QQQ", "Trading symbol")
	interval := flag.String("interval", "5m", "Bar interval")
	from := flag.String("from", "2016-01-01 00:00:00", "Start UTC (YYYY-MM-DD HH:MM:SS)")
	to := flag.String("to", "2024-01-01 00:00:00", "End UTC (YYYY-MM-DD HH:MM:SS)")
	user := flag.String("ch-user", "backtest", "ClickHouse user")
	pass := flag.String("ch-pass", "backtest123", "ClickHouse password")
	outCSV := flag.String("out", "./orb_bars.csv", "Temp CSV output path")
	csvPath := flag.String("csv", "", "Path to local CSV; if set, skip ClickHouse download")
	strategy := flag.String("strategy", "orb_5min", "Strategy preset name")
	configPath := flag.String("config", "", "YAML run config; overrides -strategy")
	tradesOut := flag.String("trades", "./trades.csv", "Trade list CSV output")
	arrowOut := flag.String("arrow", "", "Optional Arrow IPC trade export path")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	barsPath := *outCSV
	if *csvPath != "" {
		barsPath = preprocessCSV(*csvPath)
	} else {
		exportFromClickHouse(*chURL, *db, *table, *symbol, *interval, *from, *to, *user, *pass, *outCSV)
	}

	var cfg engine.Config
	if *configPath != "" {
		cfg, err = strategies.LoadConfig(*configPath)
	} else {
		cfg, err = strategies.Preset(*strategy, *symbol)
	}
	if err != nil {
		panic(err)
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		panic(err)
	}
	series, err := engine.LoadCSV(barsPath, loc)
	if err != nil {
		panic(err)
	}
	fmt.Printf("Loaded bars via LoadCSV: %d\n", len(series.Bars))

	runner, err := engine.NewRunner(cfg, logger)
	if err != nil {
		panic(err)
	}

	days := series.Days()
	bar := progressbar.NewOptions(len(days),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("Backtesting"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]█[reset]",
			SaucerHead:    "[green]█[reset]",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
	runner.OnDay = func(done, total int) { bar.Set(done) }

	res, err := runner.Run(series)
	if err != nil {
		panic(err)
	}
	bar.Finish()
	fmt.Println()

	summary := engine.Summarize(res)
	printSummary(*symbol, *strategy, summary, engine.BuyAndHold(series, res.StartingCapital))

	if err := engine.SaveTradesCSV(*tradesOut, res.Trades, loc); err != nil {
		panic(err)
	}
	fmt.Printf("Trades written to %s\n", *tradesOut)

	if *arrowOut != "" && len(res.Trades) > 0 {
		p := arrowpipeline.NewPipeline(logger)
		if err := p.ExportTradesFile(*arrowOut, res.Trades); err != nil {
			panic(err)
		}
	}
}

var hundred = decimal.NewFromInt(100)

func printSummary(symbol, strategy string, s engine.Summary, buyHold decimal.Decimal) {
	fmt.Printf("=== ORB Backtest Summary (%s, %s) ===\n", symbol, strategy)

	t := tablewriter.NewTable(os.Stdout,
		tablewriter.WithHeader([]string{"Metric", "Value"}),
	)
	rows := [][]string{
		{"Trades", fmt.Sprintf("%d (%d long / %d short)", s.Trades, s.Longs, s.Shorts)},
		{"Win rate", s.WinRate.Mul(hundred).StringFixed(1) + "%"},
		{"Net PnL", "$" + s.NetPnl.StringFixed(2)},
		{"Profit factor", s.ProfitFactor.StringFixed(2)},
		{"Avg win / loss", "$" + s.AvgWin.StringFixed(2) + " / $" + s.AvgLoss.StringFixed(2)},
		{"Avg reward:risk", s.AvgRewardRisk.StringFixed(2)},
		{"Max win streak", fmt.Sprintf("%d", s.MaxWinStreak)},
		{"Max loss streak", fmt.Sprintf("%d", s.MaxLossStreak)},
		{"Max drawdown", "$" + s.MaxDrawdown.StringFixed(2)},
		{"Sharpe (ann.)", fmt.Sprintf("%.2f", s.SharpeRatio)},
		{"Commission", "$" + s.Commission.StringFixed(2)},
		{"Final equity", "$" + s.FinalEquity.StringFixed(2)},
		{"Buy & hold PnL", "$" + buyHold.StringFixed(2)},
	}
	for _, r := range rows {
		t.Append(r)
	}
	for reason, n := range s.ExitCounts {
		t.Append([]string{"Exits " + string(reason), fmt.Sprintf("%d", n)})
	}
	t.Render()
}

// exportFromClickHouse downloads bars as CSV over the HTTP interface, in the
// exact column layout LoadCSV expects.
func exportFromClickHouse(chURL, db, table, symbol, interval, from, to, user, pass, outCSV string) {
	q := fmt.Sprintf(`
SELECT
    timestamp_ms,
    toString(open),
    toString(high),
    toString(low),
    toString(close),
    toString(volume),
    ifNull(toString(vwap), '')
FROM %s.%s FINAL
WHERE symbol = '%s'
  AND interval = '%s'
  AND timestamp_ms >= toUnixTimestamp64Milli(toDateTime64('%s',3,'UTC'))
  AND timestamp_ms <  toUnixTimestamp64Milli(toDateTime64('%s',3,'UTC'))
ORDER BY timestamp_ms
FORMAT CSV
`, db, table, symbol, interval, from, to)

	endpoint := fmt.Sprintf("%s/?%s", strings.TrimRight(chURL, "/"), url.Values{
		"query":    {q},
		"user":     {user},
		"password": {pass},
	}.Encode())

	if err := os.MkdirAll(filepath.Dir(outCSV), 0o755); err != nil {
		panic(err)
	}
	resp, err := http.Get(endpoint)
	if err != nil {
		panic(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		b, _ := io.ReadAll(resp.Body)
		panic(fmt.Errorf("clickhouse export error %d: %s", resp.StatusCode, string(b)))
	}
	outFile, err := os.Create(outCSV)
	if err != nil {
		panic(err)
	}
	defer outFile.Close()
	writer := bufio.NewWriter(outFile)
	writer.WriteString("timestamp,open,high,low,close,volume,vwap\n")
	if _, err := io.Copy(writer, resp.Body); err != nil {
		panic(err)
	}
	writer.Flush()
}

// preprocessCSV strips quotes and decodes UTF-16 dumps so the loader sees a
// clean UTF-8 file. Some exports from spreadsheet tools arrive UTF-16LE.
func preprocessCSV(csvPath string) string {
	cleanPath := csvPath + ".clean.csv"
	inF, err := os.Open(csvPath)
	if err != nil {
		panic(err)
	}
	defer inF.Close()
	outF, err := os.Create(cleanPath)
	if err != nil {
		panic(err)
	}
	defer outF.Close()
	w := bufio.NewWriter(outF)

	var reader io.Reader = inF
	br := bufio.NewReader(inF)
	b1, _ := br.Peek(2)
	if len(b1) >= 2 && ((b1[0] == 0xFF && b1[1] == 0xFE) || (b1[0] == 0xFE && b1[1] == 0xFF)) {
		inF.Seek(0, 0)
		reader = transform.NewReader(inF, unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder())
	} else {
		reader = br
	}

	scanner := bufio.NewScanner(reader)
	buf := make([]byte, 0, 1024*1024)
	scanner.Buffer(buf, 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		line = strings.TrimPrefix(line, "\uFEFF")
		line = strings.ReplaceAll(line, "\"", "")
		w.WriteString(line)
		w.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		panic(err)
	}
	if err := w.Flush(); err != nil {
		panic(err)
	}
	return cleanPath
}
