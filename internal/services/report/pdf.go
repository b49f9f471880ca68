// Package report 生成自启动清单的 PDF 报告。
package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/phpdave11/gofpdf"

	"startup-inspector/internal/domain/model"
	"startup-inspector/internal/platform/hash"
	"startup-inspector/internal/services/inventory"
	"startup-inspector/internal/services/privacy"
)

// ExportType 是报告在 exports 表中的登记类型。
const ExportType = "report_pdf"

// Store 是报告登记与审计所需的存储能力。
type Store interface {
	SaveExport(ctx context.Context, exportType, filePath, sha256, status string) (string, error)
	AppendAudit(ctx context.Context, namespace, eventType, action, status, actor, category string, detail any) error
}

type Options struct {
	Namespace string
	// Dir 是报告输出目录。
	Dir      string
	Operator string
	Note     string
	Masked   bool
	Now      time.Time
}

// Input 是报告的数据来源。
type Input struct {
	States    []inventory.CategoryState
	Aggregate model.AggregateImpact
	Prechecks []model.PrecheckResult
	// LastAuditHash 为空时不输出审计摘要。
	LastAuditHash string
}

type Result struct {
	ExportID    string   `json:"export_id"`
	PDFPath     string   `json:"pdf_path"`
	PDFSHA256   string   `json:"pdf_sha256"`
	Warnings    []string `json:"warnings,omitempty"`
	GeneratedAt int64    `json:"generated_at"`
}

// 单个类别最多输出的记录数。
const maxRowsPerCategory = 300

// Generate 写出 PDF，登记到 exports 表并写审计。
func Generate(ctx context.Context, store Store, in Input, opts Options) (*Result, error) {
	dir := strings.TrimSpace(opts.Dir)
	if dir == "" {
		return nil, fmt.Errorf("report dir is required")
	}
	operator := strings.TrimSpace(opts.Operator)
	if operator == "" {
		operator = "system"
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir reports: %w", err)
	}
	pdfPath := filepath.Join(dir, fmt.Sprintf("startup_report_%s.pdf", now.Format("2006-01-02_15-04-05")))

	var warnings []string
	for _, st := range in.States {
		if st.Status != model.SourceOK {
			warnings = append(warnings, fmt.Sprintf("%s: source status %s", st.Category, st.Status))
		}
	}

	pdf, utf8OK := buildPDF(in, operator, opts, now.Unix(), warnings)
	if !utf8OK {
		warnings = append(warnings, "pdf utf8 font not available; non-ascii text may be replaced with '?'")
	}
	if err := pdf.OutputFileAndClose(pdfPath); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}

	sum, _, err := hash.File(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("sha256 pdf: %w", err)
	}
	exportID, err := store.SaveExport(ctx, ExportType, pdfPath, sum, "ready")
	if err != nil {
		return nil, fmt.Errorf("save export: %w", err)
	}

	total := 0
	for _, st := range in.States {
		total += len(st.Records)
	}
	_ = store.AppendAudit(ctx, opts.Namespace, "export", ExportType, "success", operator, "", map[string]any{
		"pdf":          pdfPath,
		"pdf_sha256":   sum,
		"record_count": total,
		"masked":       opts.Masked,
		"warnings":     warnings,
	})

	return &Result{
		ExportID:    exportID,
		PDFPath:     pdfPath,
		PDFSHA256:   sum,
		Warnings:    warnings,
		GeneratedAt: now.Unix(),
	}, nil
}

func buildPDF(in Input, operator string, opts Options, generatedAt int64, warnings []string) (*gofpdf.Fpdf, bool) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(14, 14, 14)
	pdf.SetAutoPageBreak(true, 14)
	pdf.SetTitle("Startup Inspector - Autostart Report", false)

	fontFamily, utf8OK := initPDFUnicodeFont(pdf)

	pdf.AddPage()
	pdf.SetFont(fontFamily, "B", 16)
	pdf.CellFormat(0, 9, "Startup Inspector - Autostart Report", "", 1, "L", false, 0, "")

	pdf.SetFont(fontFamily, "", 10)
	pdf.SetTextColor(60, 60, 60)
	pdf.CellFormat(0, 6, fmt.Sprintf("Generated at: %s", fmtTime(generatedAt)), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, fmt.Sprintf("Operator: %s", safeText(operator, utf8OK)), "", 1, "L", false, 0, "")
	if strings.TrimSpace(opts.Note) != "" {
		pdf.MultiCell(0, 5, fmt.Sprintf("Note: %s", safeText(opts.Note, utf8OK)), "", "L", false)
	}
	pdf.Ln(2)

	sectionTitle(pdf, fontFamily, "1. Summary")
	agg := in.Aggregate
	kv(pdf, fontFamily, utf8OK, "Enabled Items", fmt.Sprintf("%d", agg.EnabledCount))
	kv(pdf, fontFamily, utf8OK, "Est. Startup", fmt.Sprintf("%.2fs (max %.2fs, sum %.2fs)", agg.EstimatedSeconds, agg.MaxSeconds, agg.SumSeconds))
	for _, st := range in.States {
		kv(pdf, fontFamily, utf8OK, labelOf(st.Category), fmt.Sprintf("%d items, status=%s, method=%s", len(st.Records), st.Status, orDash(st.Method)))
	}
	if strings.TrimSpace(in.LastAuditHash) != "" {
		kv(pdf, fontFamily, utf8OK, "Audit Last Hash", in.LastAuditHash)
	}
	pdf.Ln(2)

	localWarnings := append([]string{}, warnings...)
	if !utf8OK {
		localWarnings = append(localWarnings, "pdf utf8 font not available; non-ascii text may be replaced with '?'")
	}
	if len(localWarnings) > 0 {
		sectionTitle(pdf, fontFamily, "Warnings")
		pdf.SetFont(fontFamily, "", 9)
		pdf.SetTextColor(120, 80, 0)
		for _, w := range localWarnings {
			pdf.MultiCell(0, 4.5, "- "+safeText(w, utf8OK), "", "L", false)
		}
		pdf.Ln(2)
	}

	for i, st := range in.States {
		sectionTitle(pdf, fontFamily, fmt.Sprintf("%d. %s", i+2, labelOf(st.Category)))
		records := st.Records
		if opts.Masked {
			records = privacy.MaskRecords(records)
		}
		if len(records) > maxRowsPerCategory {
			records = records[:maxRowsPerCategory]
		}
		if len(records) == 0 {
			pdf.SetFont(fontFamily, "", 10)
			pdf.SetTextColor(90, 90, 90)
			pdf.MultiCell(0, 5, "(empty)", "", "L", false)
		}
		for _, r := range records {
			state := "disabled"
			if r.Enabled {
				state = "enabled"
			}
			pdf.SetFont(fontFamily, "B", 10)
			pdf.SetTextColor(20, 20, 20)
			pdf.MultiCell(0, 5, fmt.Sprintf("%s | %s | impact=%s",
				safeText(firstNonEmpty(r.DisplayName, r.IdentityKey), utf8OK), state, orDash(string(r.Impact))), "", "L", false)
			pdf.SetFont(fontFamily, "", 9)
			pdf.SetTextColor(40, 40, 40)
			if r.Path != "" {
				pdf.MultiCell(0, 4.5, "path: "+safeText(r.Path, utf8OK), "", "L", false)
			}
			if r.Publisher != "" {
				pdf.MultiCell(0, 4.5, "publisher: "+safeText(r.Publisher, utf8OK), "", "L", false)
			}
			if m := r.Metrics; m != nil && r.Category != model.CategoryBackgroundItems {
				pdf.MultiCell(0, 4.5, fmt.Sprintf("startup=%.2fs memory=%dMB cpu=%s overall=%.2f",
					m.EstimatedStartupSeconds, m.MemoryImpactMB, m.CPUImpact, m.OverallScore), "", "L", false)
			}
			pdf.Ln(1)
		}
		for _, d := range st.Diagnostics {
			pdf.SetFont(fontFamily, "", 8)
			pdf.SetTextColor(120, 80, 0)
			pdf.MultiCell(0, 4, fmt.Sprintf("[%s] %s", d.Kind, safeText(d.Message, utf8OK)), "", "L", false)
		}
		pdf.Ln(2)
	}

	if len(in.Prechecks) > 0 {
		sectionTitle(pdf, fontFamily, "Environment Checks")
		for _, c := range in.Prechecks {
			pdf.SetFont(fontFamily, "", 9)
			pdf.SetTextColor(30, 30, 30)
			pdf.MultiCell(0, 4.5, fmt.Sprintf("[%s] %s (%s) - %s",
				strings.ToUpper(string(c.Status)),
				safeText(c.CheckName, utf8OK),
				safeText(c.CheckCode, utf8OK),
				safeText(c.Message, utf8OK),
			), "", "L", false)
		}
	}

	pdf.Ln(2)
	pdf.SetFont(fontFamily, "", 9)
	pdf.SetTextColor(90, 90, 90)
	pdf.MultiCell(0, 4.5, "Note: Startup times are heuristic estimates derived from launchd declarations, not measurements.", "", "L", false)

	return pdf, utf8OK
}

func labelOf(c model.Category) string {
	switch c {
	case model.CategoryLoginItems:
		return "Login Items"
	case model.CategoryLaunchAgents:
		return "Launch Agents"
	case model.CategoryLaunchDaemons:
		return "Launch Daemons"
	case model.CategoryBackgroundItems:
		return "Background Items"
	default:
		return string(c)
	}
}

func sectionTitle(pdf *gofpdf.Fpdf, fontFamily string, title string) {
	pdf.SetFont(fontFamily, "B", 12)
	pdf.SetTextColor(0, 0, 0)
	pdf.CellFormat(0, 7, title, "", 1, "L", false, 0, "")
	pdf.SetDrawColor(200, 200, 200)
	pdf.Line(pdf.GetX(), pdf.GetY(), 196, pdf.GetY())
	pdf.Ln(2)
}

func kv(pdf *gofpdf.Fpdf, fontFamily string, utf8OK bool, key string, value string) {
	if strings.TrimSpace(value) == "" {
		value = "-"
	}
	pdf.SetFont(fontFamily, "B", 10)
	pdf.SetTextColor(30, 30, 30)
	pdf.CellFormat(40, 5.2, key+":", "", 0, "L", false, 0, "")
	pdf.SetFont(fontFamily, "", 10)
	pdf.SetTextColor(20, 20, 20)
	pdf.MultiCell(0, 5.2, safeText(value, utf8OK), "", "L", false)
}

func fmtTime(ts int64) string {
	if ts <= 0 {
		return "-"
	}
	return time.Unix(ts, 0).Format("2006-01-02 15:04:05")
}

// safeText 去掉控制字符；没有 UTF-8 字体时把非 ASCII 字符替换为 '?'。
func safeText(s string, utf8OK bool) string {
	s = strings.NewReplacer("\r", " ", "\n", " ", "\t", " ").Replace(s)
	s = strings.TrimSpace(s)
	if utf8OK {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= 32 && r <= 126 {
			b.WriteRune(r)
		} else {
			b.WriteRune('?')
		}
	}
	return b.String()
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return a
	}
	return b
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

// initPDFUnicodeFont 尝试加载 UTF-8 字体。
// STARTUP_INSPECTOR_PDF_FONT 优先，其次探测系统字体，都失败时回退到 Helvetica。
func initPDFUnicodeFont(pdf *gofpdf.Fpdf) (family string, utf8OK bool) {
	const familyName = "unicode"
	var candidates []string
	if v := strings.TrimSpace(os.Getenv("STARTUP_INSPECTOR_PDF_FONT")); v != "" {
		candidates = append(candidates, v)
	}
	switch runtime.GOOS {
	case "darwin":
		candidates = append(candidates,
			"/System/Library/Fonts/Supplemental/Arial Unicode.ttf",
			"/Library/Fonts/Arial Unicode.ttf",
		)
	default:
		candidates = append(candidates,
			"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
		)
	}

	for _, p := range candidates {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		pdf.AddUTF8Font(familyName, "", p)
		if pdf.Err() {
			pdf.ClearError()
			continue
		}
		// 只有一个字体文件时也注册 B 样式，避免 SetFont(..., "B", ...) 报错。
		pdf.AddUTF8Font(familyName, "B", p)
		if pdf.Err() {
			pdf.ClearError()
		}
		return familyName, true
	}
	return "Helvetica", false
}
