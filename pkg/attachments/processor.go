// Package attachments extracts a bounded plain-text preview from uploaded
// File Attachments so their metadata (model.FileAttachment.TextPreview) can carry document content
// without round-tripping the original bytes through the object store.
package attachments

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	godocx "github.com/gomutex/godocx"
	"github.com/gomutex/godocx/wml/ctypes"
	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"
)

const defaultMaxTextChars = 8000

// Options bounds how much preview text ExtractPreview will produce.
type Options struct {
	MaxTextChars int
}

// ExtractPreview returns a normalized plain-text preview of data, given its
// sniffed MIME type. Returns ("", nil) for types with no extractable text
// (images, audio, video, unknown binaries) rather than an error — absence of
// a preview is not a failure.
func ExtractPreview(data []byte, mimeType string, opts Options) (string, error) {
	maxTextChars := opts.MaxTextChars
	if maxTextChars <= 0 {
		maxTextChars = defaultMaxTextChars
	}

	docType := detectDocumentType(mimeType)
	if docType == docTypeUnsupported {
		return "", nil
	}

	text, err := extractText(data, docType, maxTextChars)
	if err != nil {
		return "", fmt.Errorf("extract preview: %w", err)
	}

	text = normalizeText(text)
	if text == "" {
		return "", nil
	}

	if utf8.RuneCountInString(text) > maxTextChars {
		runes := []rune(text)
		text = string(runes[:maxTextChars])
	}
	return text, nil
}

type documentType string

const (
	docTypeUnsupported documentType = ""
	docTypePlainText   documentType = "plain_text"
	docTypePDF         documentType = "pdf"
	docTypeDOCX        documentType = "docx"
	docTypeXLSX        documentType = "xlsx"
)

func detectDocumentType(mimeType string) documentType {
	switch {
	case strings.HasPrefix(mimeType, "text/"):
		return docTypePlainText
	case mimeType == "application/json":
		return docTypePlainText
	case mimeType == "application/pdf":
		return docTypePDF
	case mimeType == "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return docTypeDOCX
	case mimeType == "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		return docTypeXLSX
	default:
		return docTypeUnsupported
	}
}

func extractText(data []byte, docType documentType, maxTextChars int) (string, error) {
	switch docType {
	case docTypePlainText:
		return decodeTextBytes(data), nil
	case docTypePDF:
		return extractPDFText(data, maxTextChars)
	case docTypeDOCX:
		return extractDOCXText(data)
	case docTypeXLSX:
		return extractXLSXText(data)
	default:
		return "", fmt.Errorf("unsupported document type")
	}
}

// extractPDFText uses github.com/ledongthuc/pdf to extract text. It handles
// CIDFont + ToUnicode CMap encodings commonly used in non-Latin PDFs.
//
// pdf.Open wants a path, not a reader, so the upload bytes are spilled to a
// scratch file first and removed once parsing finishes.
func extractPDFText(data []byte, maxTextChars int) (string, error) {
	tmp, err := spillToTempFile(data, "attachment-*.pdf")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp)

	f, reader, err := pdf.Open(tmp)
	if err != nil {
		return "", err
	}
	defer f.Close()

	plainText, err := reader.GetPlainText()
	if err != nil {
		return "", err
	}

	// *4 for UTF-8 worst case per rune.
	limited := io.LimitReader(plainText, int64(maxTextChars)*4)
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(limited); err != nil {
		return "", err
	}

	text := buf.String()
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("no extractable text found in PDF")
	}
	return text, nil
}

// extractDOCXText spills to a scratch file for the same reason as
// extractPDFText: godocx.OpenDocument takes a path.
func extractDOCXText(data []byte) (string, error) {
	tmp, err := spillToTempFile(data, "attachment-*.docx")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp)

	document, err := godocx.OpenDocument(tmp)
	if err != nil {
		return "", err
	}

	if document.Document == nil || document.Document.Body == nil {
		return "", fmt.Errorf("document body not found")
	}

	var out strings.Builder
	for _, child := range document.Document.Body.Children {
		if child.Para == nil {
			continue
		}
		appendParagraphText(&out, child.Para.GetCT().Children)
		appendNewline(&out)
	}

	return out.String(), nil
}

func extractXLSXText(data []byte) (string, error) {
	workbook, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	defer func() {
		_ = workbook.Close()
	}()

	sheetNames := workbook.GetSheetList()
	if len(sheetNames) == 0 {
		return "", fmt.Errorf("worksheets not found")
	}

	var out strings.Builder
	for index, sheet := range sheetNames {
		if index > 0 {
			out.WriteString("\n\n")
		}
		out.WriteString("[sheet: ")
		out.WriteString(sheet)
		out.WriteString("]\n")

		rows, readErr := workbook.GetRows(sheet)
		if readErr != nil {
			return "", readErr
		}

		for rowIndex, row := range rows {
			parts := make([]string, 0, len(row))
			for colIndex, cellValue := range row {
				cellValue = strings.TrimSpace(cellValue)
				if cellValue == "" {
					continue
				}

				label, labelErr := excelize.CoordinatesToCellName(colIndex+1, rowIndex+1)
				if labelErr != nil {
					return "", labelErr
				}
				parts = append(parts, label+"="+cellValue)
			}

			if len(parts) > 0 {
				out.WriteString(strings.Join(parts, "\t"))
				out.WriteByte('\n')
			}
		}
	}

	return out.String(), nil
}

func spillToTempFile(data []byte, pattern string) (string, error) {
	f, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func decodeTextBytes(data []byte) string {
	if len(data) == 0 {
		return ""
	}

	if len(data) >= 2 {
		if data[0] == 0xFE && data[1] == 0xFF {
			return decodeUTF16(data[2:], true)
		}
		if data[0] == 0xFF && data[1] == 0xFE {
			return decodeUTF16(data[2:], false)
		}
	}

	if looksLikeUTF16(data) {
		return decodeUTF16(data, true)
	}

	if utf8.Valid(data) {
		return string(data)
	}

	return string(bytes.ToValidUTF8(data, []byte("�")))
}

func looksLikeUTF16(data []byte) bool {
	if len(data) < 4 {
		return false
	}

	zeroCount := 0
	sample := len(data)
	if sample > 200 {
		sample = 200
	}
	for index := 1; index < sample; index += 2 {
		if data[index] == 0 {
			zeroCount++
		}
	}

	return zeroCount > sample/8
}

func decodeUTF16(data []byte, bigEndian bool) string {
	if len(data)%2 != 0 {
		data = data[:len(data)-1]
	}
	if len(data) == 0 {
		return ""
	}

	words := make([]uint16, 0, len(data)/2)
	for index := 0; index+1 < len(data); index += 2 {
		if bigEndian {
			words = append(words, uint16(data[index])<<8|uint16(data[index+1]))
		} else {
			words = append(words, uint16(data[index+1])<<8|uint16(data[index]))
		}
	}

	return string(utf16.Decode(words))
}

func appendParagraphText(builder *strings.Builder, children []ctypes.ParagraphChild) {
	for _, child := range children {
		if child.Run != nil {
			for _, runChild := range child.Run.Children {
				switch {
				case runChild.Text != nil:
					builder.WriteString(runChild.Text.Text)
				case runChild.DelText != nil:
					builder.WriteString(runChild.DelText.Text)
				case runChild.Tab != nil:
					builder.WriteByte('\t')
				case runChild.Break != nil || runChild.CarrRtn != nil:
					appendNewline(builder)
				}
			}
		}

		if child.Link != nil {
			appendParagraphText(builder, child.Link.Children)
		}
	}
}

func appendNewline(builder *strings.Builder) {
	if builder.Len() == 0 {
		return
	}
	current := builder.String()
	if strings.HasSuffix(current, "\n") {
		return
	}
	builder.WriteByte('\n')
}

func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	lines := strings.Split(text, "\n")

	out := make([]string, 0, len(lines))
	blankCount := 0
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			blankCount++
			if blankCount > 1 {
				continue
			}
			out = append(out, "")
			continue
		}
		blankCount = 0
		out = append(out, trimmed)
	}

	return strings.TrimSpace(strings.Join(out, "\n"))
}
