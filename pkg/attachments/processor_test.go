package attachments

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	godocx "github.com/gomutex/godocx"
	"github.com/xuri/excelize/v2"
)

func TestExtractPreview_PlainText(t *testing.T) {
	preview, err := ExtractPreview([]byte("hello\nworld"), "text/plain", Options{})
	if err != nil {
		t.Fatalf("ExtractPreview() error = %v", err)
	}
	if preview != "hello\nworld" {
		t.Fatalf("preview = %q, want %q", preview, "hello\nworld")
	}
}

func TestExtractPreview_DOCX(t *testing.T) {
	data := createDOCXFixture(t, []string{"Hello", "DOCX"})

	preview, err := ExtractPreview(data, "application/vnd.openxmlformats-officedocument.wordprocessingml.document", Options{})
	if err != nil {
		t.Fatalf("ExtractPreview() error = %v", err)
	}
	if preview != "Hello\nDOCX" {
		t.Fatalf("preview = %q, want %q", preview, "Hello\nDOCX")
	}
}

func TestExtractPreview_XLSX(t *testing.T) {
	data := createXLSXFixture(t, []xlsxSheetFixture{
		{Name: "Sheet1", Cells: map[string]any{"A1": "name", "B1": "Alice"}},
	})

	preview, err := ExtractPreview(data, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", Options{})
	if err != nil {
		t.Fatalf("ExtractPreview() error = %v", err)
	}
	if !strings.Contains(preview, "A1=name") || !strings.Contains(preview, "B1=Alice") {
		t.Fatalf("preview = %q, want cells A1/B1", preview)
	}
}

func TestExtractPreview_PDF(t *testing.T) {
	data := createPDFFixture(t, "hello preview")

	preview, err := ExtractPreview(data, "application/pdf", Options{})
	if err != nil {
		t.Fatalf("ExtractPreview() error = %v", err)
	}
	if !strings.Contains(preview, "hello preview") {
		t.Fatalf("preview = %q, want contains %q", preview, "hello preview")
	}
}

func TestExtractPreview_MalformedPDFReturnsError(t *testing.T) {
	content := "%PDF-1.4\n1 0 obj\n<< /Filter /FlateDecode >>\nstream\nnot valid zlib\nendstream\nendobj\n%%EOF"

	_, err := ExtractPreview([]byte(content), "application/pdf", Options{})
	if err == nil {
		t.Fatal("expected error for malformed PDF")
	}
}

func TestExtractPreview_UnsupportedTypeReturnsNoErrorNoPreview(t *testing.T) {
	preview, err := ExtractPreview([]byte{0xFF, 0xD8, 0xFF}, "image/jpeg", Options{})
	if err != nil {
		t.Fatalf("ExtractPreview() error = %v, want nil", err)
	}
	if preview != "" {
		t.Fatalf("preview = %q, want empty for image type", preview)
	}
}

func TestExtractPreview_RespectsMaxTextChars(t *testing.T) {
	data := createPDFFixture(t, strings.Repeat("A", 240))

	short, err := ExtractPreview(data, "application/pdf", Options{MaxTextChars: 10})
	if err != nil {
		t.Fatalf("ExtractPreview() short limit error = %v", err)
	}
	long, err := ExtractPreview(data, "application/pdf", Options{MaxTextChars: 200})
	if err != nil {
		t.Fatalf("ExtractPreview() long limit error = %v", err)
	}

	if len(short) >= len(long) {
		t.Fatalf("expected short-limit preview to be smaller, got short=%d long=%d", len(short), len(long))
	}
	if len(short) > 10 {
		t.Fatalf("short-limit preview too long: got %d, want <= 10", len(short))
	}
}

func createDOCXFixture(t *testing.T, paragraphs []string) []byte {
	t.Helper()

	path := filepath.Join(t.TempDir(), "fixture.docx")
	document, err := godocx.NewDocument()
	if err != nil {
		t.Fatal(err)
	}
	for _, paragraph := range paragraphs {
		document.AddParagraph(paragraph)
	}
	if err := document.SaveTo(path); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

type xlsxSheetFixture struct {
	Name  string
	Cells map[string]any
}

func createXLSXFixture(t *testing.T, sheets []xlsxSheetFixture) []byte {
	t.Helper()

	workbook := excelize.NewFile()
	defer func() {
		_ = workbook.Close()
	}()

	defaultSheet := workbook.GetSheetName(workbook.GetActiveSheetIndex())
	for index, sheet := range sheets {
		if sheet.Name == "" {
			t.Fatal("sheet name cannot be empty")
		}

		targetSheet := sheet.Name
		switch {
		case index == 0 && defaultSheet != targetSheet:
			if err := workbook.SetSheetName(defaultSheet, targetSheet); err != nil {
				t.Fatal(err)
			}
		case index > 0:
			if _, err := workbook.NewSheet(targetSheet); err != nil {
				t.Fatal(err)
			}
		}

		for cellRef, value := range sheet.Cells {
			if err := workbook.SetCellValue(targetSheet, cellRef, value); err != nil {
				t.Fatal(err)
			}
		}
	}

	path := filepath.Join(t.TempDir(), "fixture.xlsx")
	if err := workbook.SaveAs(path); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func createPDFFixture(t *testing.T, text string) []byte {
	t.Helper()

	var buf bytes.Buffer
	offsets := make([]int, 6)

	write := func(s string) {
		_, _ = buf.WriteString(s)
	}

	write("%PDF-1.4\n")

	offsets[1] = buf.Len()
	write("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")

	offsets[2] = buf.Len()
	write("2 0 obj\n<< /Type /Pages /Kids [3 0 R] /Count 1 >>\nendobj\n")

	offsets[3] = buf.Len()
	write(
		"3 0 obj\n" +
			"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] " +
			"/Contents 4 0 R /Resources << /Font << /F1 5 0 R >> >> >>\n" +
			"endobj\n",
	)

	content := "BT\n/F1 12 Tf\n72 720 Td\n(" + escapePDFText(text) + ") Tj\nET\n"
	offsets[4] = buf.Len()
	write(fmt.Sprintf("4 0 obj\n<< /Length %d >>\nstream\n%sendstream\nendobj\n", len(content), content))

	offsets[5] = buf.Len()
	write("5 0 obj\n<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>\nendobj\n")

	startXRef := buf.Len()
	write("xref\n0 6\n")
	write("0000000000 65535 f \n")
	for i := 1; i <= 5; i++ {
		write(fmt.Sprintf("%010d 00000 n \n", offsets[i]))
	}
	write("trailer\n<< /Size 6 /Root 1 0 R >>\n")
	write(fmt.Sprintf("startxref\n%d\n%%%%EOF\n", startXRef))

	return buf.Bytes()
}

func escapePDFText(text string) string {
	text = strings.ReplaceAll(text, "\\", "\\\\")
	text = strings.ReplaceAll(text, "(", "\\(")
	text = strings.ReplaceAll(text, ")", "\\)")
	return text
}
