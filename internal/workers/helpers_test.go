package workers

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/jonathan/docpipeline/internal/llm"
)

// fakeClient answers each method from a queue; an exhausted queue is an error
type fakeClient struct {
	mu      sync.Mutex
	content []string
	json    []string
	err     error
	prompts []string
}

func (f *fakeClient) next(queue *[]string, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	if len(*queue) == 0 {
		return "", errors.New("no scripted response")
	}
	resp := (*queue)[0]
	*queue = (*queue)[1:]
	return resp, nil
}

func (f *fakeClient) GenerateContent(_ context.Context, prompt string, _ llm.ModelTier) (string, error) {
	return f.next(&f.content, prompt)
}

func (f *fakeClient) GenerateJSON(_ context.Context, prompt string, _ llm.ModelTier) (string, error) {
	return f.next(&f.json, prompt)
}

func (f *fakeClient) GenerateWithImages(_ context.Context, prompt string, _ []llm.Image, _ llm.ModelTier) (string, error) {
	return f.next(&f.json, prompt)
}

func (f *fakeClient) GetModel(llm.ModelTier) string { return "fake" }
func (f *fakeClient) Close() error                  { return nil }

func (f *fakeClient) promptCount(substr string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.prompts {
		if strings.Contains(p, substr) {
			n++
		}
	}
	return n
}

const goodTeX = `\documentclass{article}
\usepackage{graphicx}
\begin{document}
\section{Introduction}
The study measured throughput across three clusters and found steady growth in every quarter.
\section{Results}
Throughput rose in every region, with the largest gains in the second half of the year.
\end{document}
`

func sourceFiles() map[string][]byte {
	return map[string][]byte{
		"sections/introduction.md": []byte("# Introduction\n\nWe study   throughput.\n"),
		"sections/results.md":      []byte("Throughput rose 12% in Q3.\n"),
		"tables/quarterly.csv":     []byte("quarter,throughput\nQ1,10\nQ2,11\n"),
		"figures/trend.png":        []byte("png-bytes"),
	}
}
