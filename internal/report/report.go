// Package report builds the monthly usage workbook and optionally drops it
// on an FTP server for the accounting hand-off.
package report

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/leadextract/internal/config"
	"github.com/sells-group/leadextract/internal/model"
	"github.com/sells-group/leadextract/internal/store"
)

// Summary describes one export run.
type Summary struct {
	Month        time.Time `json:"month"`
	Locations    int       `json:"locations"`
	Attempts     int       `json:"attempts"`
	Successes    int       `json:"successes"`
	ProviderCost float64   `json:"provider_cost"`
	CustomerCost float64   `json:"customer_cost"`
	Path         string    `json:"path"`
	Delivered    bool      `json:"delivered"`
}

// Exporter writes per-location usage rollups to an xlsx workbook.
type Exporter struct {
	store store.Store
	cfg   config.ReportConfig
}

// NewExporter creates an Exporter backed by the given store.
func NewExporter(st store.Store, cfg config.ReportConfig) *Exporter {
	return &Exporter{store: st, cfg: cfg}
}

// Export builds the workbook for the month containing the given instant,
// saves it under the configured output directory and, when an FTP URL is
// configured, uploads it. A failed upload leaves the local file in place;
// the summary carries its path alongside the returned error.
func (e *Exporter) Export(ctx context.Context, month time.Time) (*Summary, error) {
	m := month.UTC()
	start := time.Date(m.Year(), m.Month(), 1, 0, 0, 0, 0, time.UTC)

	rows, err := e.store.ListMonthlyUsage(ctx, start)
	if err != nil {
		return nil, eris.Wrap(err, "report: list monthly usage")
	}

	sum := &Summary{Month: start, Locations: len(rows)}
	for _, u := range rows {
		sum.Attempts += u.Attempts
		sum.Successes += u.Successes
		sum.ProviderCost += u.CostEstimate
		sum.CustomerCost += u.CustomerCost
	}

	f, err := buildWorkbook(start, rows)
	if err != nil {
		return nil, err
	}

	dir := e.cfg.OutputDir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrap(err, "report: create output dir")
	}
	sum.Path = filepath.Join(dir, fmt.Sprintf("usage-%s.xlsx", start.Format("2006-01")))
	if err := f.Save(sum.Path); err != nil {
		return nil, eris.Wrap(err, "report: save workbook")
	}

	zap.L().Info("report: workbook written",
		zap.String("path", sum.Path),
		zap.Int("locations", sum.Locations),
		zap.Int("attempts", sum.Attempts))

	if e.cfg.FTPURL == "" {
		return sum, nil
	}
	if err := e.deliver(ctx, sum.Path); err != nil {
		return sum, eris.Wrap(err, "report: deliver workbook")
	}
	sum.Delivered = true
	zap.L().Info("report: workbook delivered", zap.String("url", e.cfg.FTPURL))
	return sum, nil
}

var reportColumns = []string{
	"Location", "Messages", "Successful", "Input Tokens", "Output Tokens",
	"Provider Cost", "Customer Cost", "Charges",
}

func buildWorkbook(month time.Time, rows []model.MonthlyUsage) (*xlsx.File, error) {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Usage " + month.Format("2006-01"))
	if err != nil {
		return nil, eris.Wrap(err, "report: add sheet")
	}

	header := sheet.AddRow()
	for _, col := range reportColumns {
		header.AddCell().Value = col
	}

	var totals model.MonthlyUsage
	for _, u := range rows {
		writeUsageRow(sheet.AddRow(), u.LocationID, u)

		totals.Attempts += u.Attempts
		totals.Successes += u.Successes
		totals.InputTokens += u.InputTokens
		totals.OutputTokens += u.OutputTokens
		totals.CostEstimate += u.CostEstimate
		totals.CustomerCost += u.CustomerCost
		totals.Charges += u.Charges
	}
	writeUsageRow(sheet.AddRow(), "TOTAL", totals)

	return f, nil
}

func writeUsageRow(r *xlsx.Row, label string, u model.MonthlyUsage) {
	r.AddCell().Value = label
	r.AddCell().SetInt(u.Attempts)
	r.AddCell().SetInt(u.Successes)
	r.AddCell().SetInt64(u.InputTokens)
	r.AddCell().SetInt64(u.OutputTokens)
	r.AddCell().SetFloatWithFormat(u.CostEstimate, "0.0000")
	r.AddCell().SetFloatWithFormat(u.CustomerCost, "0.00")
	r.AddCell().SetInt(u.Charges)
}

// deliver uploads the workbook to the configured FTP dropbox. The URL path
// names the remote directory; the file keeps its local name.
func (e *Exporter) deliver(ctx context.Context, localPath string) error {
	host, remoteDir, err := parseDropURL(e.cfg.FTPURL)
	if err != nil {
		return err
	}

	conn, err := ftp.Dial(host, ftp.DialWithTimeout(30*time.Second), ftp.DialWithContext(ctx))
	if err != nil {
		return eris.Wrap(err, "ftp dial")
	}
	defer conn.Quit()

	user, pass := e.cfg.FTPUser, e.cfg.FTPPassword
	if user == "" {
		user, pass = "anonymous", "anonymous@"
	}
	if err := conn.Login(user, pass); err != nil {
		return eris.Wrap(err, "ftp login")
	}

	f, err := os.Open(localPath)
	if err != nil {
		return eris.Wrap(err, "open workbook")
	}
	defer f.Close()

	remote := path.Join(remoteDir, filepath.Base(localPath))
	if err := conn.Stor(remote, f); err != nil {
		return eris.Wrapf(err, "ftp store %s", remote)
	}
	return nil
}

// parseDropURL extracts host (with port) and directory from an FTP URL.
func parseDropURL(rawURL string) (host string, dir string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", eris.Wrap(err, "parse ftp url")
	}
	if u.Scheme != "ftp" {
		return "", "", eris.Errorf("expected ftp scheme, got %q", u.Scheme)
	}

	host = u.Host
	if _, _, splitErr := net.SplitHostPort(host); splitErr != nil {
		host = net.JoinHostPort(host, "21")
	}
	return host, u.Path, nil
}
