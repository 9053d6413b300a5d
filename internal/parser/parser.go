package parser

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strconv"
	"strings"

	"multimodal-assistant/internal/config"
	"multimodal-assistant/internal/models"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/rs/zerolog/log"
	"github.com/tealeg/xlsx"
	"github.com/tmc/langchaingo/documentloaders"
	"github.com/tmc/langchaingo/schema"
	"github.com/xuri/excelize/v2"
)

const (
	defaultChunkSize    = 1000 // characters
	defaultChunkOverlap = 0
)

// Parser loads knowledge documents and splits them into chunks.
type Parser struct {
	ChunkSize    int
	ChunkOverlap int
}

// New builds a Parser from the RAG settings, falling back to 1000/0.
func New(cfg *config.RAGConfig) *Parser {
	p := &Parser{ChunkSize: defaultChunkSize, ChunkOverlap: defaultChunkOverlap}
	if cfg != nil && cfg.ChunkSize > 0 {
		p.ChunkSize = cfg.ChunkSize
		p.ChunkOverlap = cfg.ChunkOverlap
	}
	return p
}

// Parse loads filePath and splits it into chunks ready for embedding.
func (p *Parser) Parse(ctx context.Context, filePath string) ([]models.Chunk, error) {
	docs, err := Load(ctx, filePath)
	if err != nil {
		return nil, err
	}
	return Split(docs, p.ChunkSize, p.ChunkOverlap)
}

// Load reads filePath into raw documents according to its kind.
func Load(ctx context.Context, filePath string) ([]schema.Document, error) {
	const op = "parser.Load"

	kind := models.KindOfPath(filePath)
	if !kind.IsDocument() {
		return nil, models.Errorf(models.KindUnsupportedFormat, op, "unsupported file extension: %s", models.Extension(filePath))
	}

	if _, err := os.Stat(filePath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, models.NewError(models.KindNotFound, op, err)
		}
		return nil, err
	}

	var (
		docs []schema.Document
		err  error
	)
	switch kind {
	case models.FileCSV:
		docs, err = loadWith(ctx, filePath, func(f *os.File) loader { return documentloaders.NewCSV(f) })
	case models.FileText:
		docs, err = loadWith(ctx, filePath, func(f *os.File) loader { return documentloaders.NewText(f) })
	case models.FileHTML:
		docs, err = loadWith(ctx, filePath, func(f *os.File) loader { return documentloaders.NewHTML(f) })
	case models.FilePDF:
		docs, err = parsePDF(filePath)
	case models.FileMarkdown:
		docs, err = parseMarkdown(filePath)
	case models.FileWord:
		docs, err = parseDOCX(filePath)
	case models.FileSpreadsheet:
		docs, err = parseXLSX(filePath)
	case models.FileMacroSpreadsheet:
		docs, err = parseXLSM(filePath)
	case models.FileAudio, models.FileImage, models.FileUnknown:
		return nil, models.Errorf(models.KindUnsupportedFormat, op, "unsupported file extension: %s", models.Extension(filePath))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", filePath, err)
	}

	for i := range docs {
		if docs[i].Metadata == nil {
			docs[i].Metadata = map[string]any{}
		}
		docs[i].Metadata["source"] = filePath
	}
	log.Debug().Str("file", filePath).Str("kind", kind.String()).Int("documents", len(docs)).Msg("Loaded document")
	return docs, nil
}

type loader interface {
	Load(ctx context.Context) ([]schema.Document, error)
}

func loadWith(ctx context.Context, filePath string, newLoader func(*os.File) loader) ([]schema.Document, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return newLoader(f).Load(ctx)
}

// one document per page, like a page-wise PDF loader
func parsePDF(filePath string) ([]schema.Document, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}

	reader, err := pdf.NewReader(f, stat.Size())
	if err != nil {
		return nil, err
	}

	var docs []schema.Document
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(pageText) == "" {
			continue
		}
		docs = append(docs, schema.Document{
			PageContent: pageText,
			Metadata:    map[string]any{"page": i},
		})
	}
	return docs, nil
}

func parseDOCX(filePath string) ([]schema.Document, error) {
	r, err := docx.ReadDocxFile(filePath)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	content := extractTextFromXML(r.Editable().GetContent())
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}
	return []schema.Document{{PageContent: content, Metadata: map[string]any{}}}, nil
}

func parseXLSX(filePath string) ([]schema.Document, error) {
	f, err := xlsx.OpenFile(filePath)
	if err != nil {
		return nil, err
	}

	var docs []schema.Document
	for _, sheet := range f.Sheets {
		rows := make([][]string, 0, len(sheet.Rows))
		for _, row := range sheet.Rows {
			cells := make([]string, 0, len(row.Cells))
			for _, cell := range row.Cells {
				cells = append(cells, cell.String())
			}
			rows = append(rows, cells)
		}
		if doc, ok := sheetDocument(sheet.Name, rows); ok {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

func parseXLSM(filePath string) ([]schema.Document, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var docs []schema.Document
	for _, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			log.Warn().Err(err).Str("sheet", sheetName).Msg("Skipping unreadable sheet")
			continue
		}
		if doc, ok := sheetDocument(sheetName, rows); ok {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

func sheetDocument(name string, rows [][]string) (schema.Document, bool) {
	var text strings.Builder
	fmt.Fprintf(&text, "## Sheet: %s\n", name)
	empty := true
	for _, row := range rows {
		line := strings.TrimRight(strings.Join(row, "\t"), "\t ")
		if line != "" {
			empty = false
		}
		text.WriteString(line + "\n")
	}
	if empty {
		return schema.Document{}, false
	}
	return schema.Document{
		PageContent: text.String(),
		Metadata:    map[string]any{"sheet": name},
	}, true
}

var wordTextRe = regexp.MustCompile(`<w:t(?:\s[^>]*)?>([^<]*)</w:t>`)

// extractTextFromXML pulls run text out of WordprocessingML, one line per paragraph.
func extractTextFromXML(xmlContent string) string {
	var text strings.Builder
	for _, para := range strings.Split(xmlContent, "</w:p>") {
		var line strings.Builder
		for _, m := range wordTextRe.FindAllStringSubmatch(para, -1) {
			line.WriteString(m[1])
		}
		if line.Len() > 0 {
			text.WriteString(xmlUnescaper.Replace(line.String()) + "\n")
		}
	}
	return text.String()
}

var xmlUnescaper = strings.NewReplacer("&lt;", "<", "&gt;", ">", "&quot;", `"`, "&apos;", "'", "&amp;", "&")

// Split cuts documents into fixed-size chunks and carries their metadata over.
func Split(docs []schema.Document, chunkSize, chunkOverlap int) ([]models.Chunk, error) {
	splitter, err := NewCharacterSplitter(chunkSize, chunkOverlap)
	if err != nil {
		return nil, err
	}

	pieces, err := splitDocuments(splitter, docs)
	if err != nil {
		return nil, err
	}

	chunks := make([]models.Chunk, 0, len(pieces))
	for i, piece := range pieces {
		meta := make(map[string]string, len(piece.Metadata)+1)
		for k, v := range piece.Metadata {
			meta[k] = fmt.Sprint(v)
		}
		meta["chunk_id"] = strconv.Itoa(i + 1)
		chunks = append(chunks, models.Chunk{
			Content:  piece.PageContent,
			Metadata: meta,
		})
	}
	return chunks, nil
}
