package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jonathan/docpipeline/internal/fetch"
	"github.com/jonathan/docpipeline/internal/types"
)

// Source kinds
const (
	KindDirectory = "directory"
	KindFile      = "file"
	KindURL       = "url"
)

// ErrEmptySource is returned when a source yields no usable files
var ErrEmptySource = errors.New("content source has no usable files")

// Options configures ingestion
type Options struct {
	// UseBrowser enables the headless-browser fallback for URL sources
	UseBrowser     bool
	BrowserTimeout time.Duration
	Fetch          *fetch.Options
	Logger         *slog.Logger
	Now            func() time.Time
}

// Source is an ingested content source ready to be committed as v0_original
type Source struct {
	Location string
	Files    map[string][]byte
	Metadata *Metadata
}

// Load ingests a directory, a single file or an http(s) URL into a file set with
// sections/, tables/ and figures/ prefixes.
func Load(ctx context.Context, location string, opts Options) (*Source, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	var (
		files map[string][]byte
		kind  string
		err   error
	)
	if isURL(location) {
		kind = KindURL
		files, err = loadURL(ctx, location, opts)
	} else {
		info, statErr := os.Stat(location)
		if statErr != nil {
			return nil, fmt.Errorf("failed to open content source: %w", statErr)
		}
		if info.IsDir() {
			kind = KindDirectory
			files, err = loadDirectory(location)
		} else {
			kind = KindFile
			files, err = loadFile(location)
		}
	}
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptySource, location)
	}

	meta := NewMetadata(location, kind, files, opts.Now())
	opts.Logger.Info("ingested content source",
		"source", location, "kind", kind,
		"sections", meta.Sections, "tables", meta.Tables, "figures", meta.Figures)
	return &Source{Location: location, Files: files, Metadata: meta}, nil
}

func isURL(location string) bool {
	u, err := url.Parse(location)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https")
}

// loadDirectory walks root and classifies every file by extension. Hidden entries are skipped.
func loadDirectory(root string) (map[string][]byte, error) {
	files := make(map[string][]byte)
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p != root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		target, ok := targetPath(p)
		if !ok {
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", p, err)
		}
		if _, dup := files[target]; dup {
			return fmt.Errorf("content source has two files named %s", target)
		}
		files[target] = normalize(target, data)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load directory %s: %w", root, err)
	}
	return files, nil
}

// loadFile ingests one markdown, text or HTML file
func loadFile(p string) (map[string][]byte, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(p)) {
	case ".html", ".htm":
		return htmlSections(string(data), fetch.DefaultTextSelectors())
	case ".md", ".markdown", ".txt":
		target := SectionsDir + Stem(p) + ".md"
		return map[string][]byte{target: normalize(target, data)}, nil
	default:
		return nil, fmt.Errorf("unsupported content file type: %s", filepath.Ext(p))
	}
}

// loadURL fetches a page and splits it into sections. With UseBrowser, a page whose
// extracted text is too short is rendered in a headless browser and re-extracted.
func loadURL(ctx context.Context, location string, opts Options) (map[string][]byte, error) {
	result, err := fetch.URL(ctx, location, opts.Fetch)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch content source: %w", err)
	}
	selectors := fetch.DefaultTextSelectors()
	html := result.HTML

	if opts.UseBrowser {
		text, err := fetch.ExtractMainText(html, selectors)
		if err == nil && fetch.ShouldUseBrowser(text) {
			timeout := opts.BrowserTimeout
			if timeout <= 0 {
				timeout = fetch.DefaultTimeout
			}
			opts.Logger.Info("page text is short, rendering in browser", "url", location, "chars", len(text))
			rendered, berr := fetch.WithBrowser(ctx, location, timeout, opts.Logger)
			if berr != nil {
				opts.Logger.Warn("browser rendering failed, using fetched HTML", "url", location, "error", berr)
			} else {
				html = rendered
			}
		}
	}
	return htmlSections(html, selectors)
}

func htmlSections(html string, selectors []string) (map[string][]byte, error) {
	sections, err := fetch.ExtractSections(html, selectors)
	if err != nil {
		return nil, fmt.Errorf("failed to extract sections: %w", err)
	}
	files := make(map[string][]byte, len(sections))
	for i, s := range sections {
		// numeric prefix keeps page order under alphabetical section ordering
		target := fmt.Sprintf("%s%02d_%s.md", SectionsDir, i+1, Slug(s.Title))
		files[target] = []byte(CleanText("# "+s.Title+"\n\n"+s.Body) + "\n")
	}
	return files, nil
}

// targetPath maps a source file to its place in the file set
func targetPath(p string) (string, bool) {
	base := filepath.Base(p)
	switch types.KindForPath(base) {
	case types.PayloadText:
		ext := strings.ToLower(filepath.Ext(base))
		if ext == ".html" || ext == ".htm" {
			return "", false
		}
		return SectionsDir + Stem(base) + ".md", true
	case types.PayloadTable:
		return TablesDir + base, true
	case types.PayloadImage, types.PayloadPDF:
		return FiguresDir + base, true
	default:
		return "", false
	}
}

func normalize(target string, data []byte) []byte {
	if strings.HasPrefix(target, SectionsDir) {
		return []byte(CleanText(string(data)) + "\n")
	}
	return data
}

func hasPrefix(p, prefix string) bool {
	return strings.HasPrefix(p, prefix)
}

func sortedPaths(files map[string][]byte) []string {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
