package raster

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	domain "github.com/bryanwahyu/automaton-plancheck/internal/domain/compliance"
)

// RenderDPI renders PDF pages at 300 DPI, a fixed 300/72 scale over PDF user space.
const RenderDPI = 300

// Poppler rasterizes PDFs with the poppler-utils binaries.
type Poppler struct {
	// TempDir holds per-document scratch directories; defaults to ./temp.
	TempDir  string
	PdfInfo  string
	PdfToPPM string
}

func NewPoppler(tempDir string) *Poppler {
	return &Poppler{TempDir: tempDir, PdfInfo: "pdfinfo", PdfToPPM: "pdftoppm"}
}

type pdfDoc struct {
	p     *Poppler
	dir   string
	path  string
	pages int
}

// Open writes the PDF to a scratch directory and reads its page count.
func (p *Poppler) Open(ctx context.Context, data []byte) (domain.RasterDocument, error) {
	// Use ./temp directory instead of system temp
	base := p.TempDir
	if base == "" {
		base = filepath.Join(".", "temp")
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, eris.Wrapf(err, "create temp dir %s", base)
	}
	dir, err := os.MkdirTemp(base, "pdf-")
	if err != nil {
		return nil, eris.Wrap(err, "create scratch dir")
	}
	doc := &pdfDoc{p: p, dir: dir, path: filepath.Join(dir, "source.pdf")}
	if err := os.WriteFile(doc.path, data, 0o600); err != nil {
		doc.Close()
		return nil, eris.Wrap(err, "write pdf")
	}

	out, err := run(ctx, p.bin(p.PdfInfo, "pdfinfo"), doc.path)
	if err != nil {
		doc.Close()
		return nil, err
	}
	n, err := parsePageCount(out)
	if err != nil {
		doc.Close()
		return nil, err
	}
	doc.pages = n
	return doc, nil
}

func (d *pdfDoc) PageCount() int { return d.pages }

// RenderPage rasterizes a single page, so only one page image is on disk at a time.
func (d *pdfDoc) RenderPage(ctx context.Context, page int) ([]byte, error) {
	if page < 1 || page > d.pages {
		return nil, eris.Errorf("page %d out of range 1..%d", page, d.pages)
	}
	prefix := filepath.Join(d.dir, fmt.Sprintf("page-%d", page))
	if _, err := run(ctx, d.p.bin(d.p.PdfToPPM, "pdftoppm"), renderArgs(d.path, prefix, page)...); err != nil {
		return nil, err
	}

	out := prefix + ".png"
	defer os.Remove(out)
	b, err := os.ReadFile(out)
	if err != nil {
		return nil, eris.Wrapf(err, "read rendered page %d", page)
	}
	return b, nil
}

// renderArgs builds the pdftoppm call for one page at RenderDPI.
func renderArgs(pdf, prefix string, page int) []string {
	n := strconv.Itoa(page)
	return []string{"-r", strconv.Itoa(RenderDPI), "-png", "-f", n, "-l", n, "-singlefile", pdf, prefix}
}

func (d *pdfDoc) Close() error {
	return os.RemoveAll(d.dir)
}

func (p *Poppler) bin(configured, fallback string) string {
	if configured != "" {
		return configured
	}
	return fallback
}

func run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok {
			return nil, eris.Errorf("%s exited with %d: %s", name, ee.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		return nil, eris.Wrapf(err, "run %s", name)
	}
	return out, nil
}

// parsePageCount reads the "Pages:" line of pdfinfo output.
func parsePageCount(out []byte) (int, error) {
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "Pages:") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "Pages:")))
		if err != nil {
			return 0, eris.Wrapf(err, "parse page count %q", line)
		}
		return n, nil
	}
	return 0, eris.New("pdfinfo output has no page count")
}
