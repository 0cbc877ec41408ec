package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nugget/studywithme/internal/fetch"
)

// FetchTool exposes f as the fetch_page tool. Input the model gets
// wrong (not a URL, a non-2xx page) comes back as text it can relay;
// only transport failures are errors.
func FetchTool(f *fetch.Fetcher) Tool {
	return Tool{
		Name:        "fetch_page",
		Description: "Fetches a web page and returns its readable text. Input: an http or https URL.",
		Handler: func(ctx context.Context, input string) (string, error) {
			page, err := f.Fetch(ctx, input)
			if errors.Is(err, fetch.ErrBadURL) {
				return fmt.Sprintf("fetch_page needs an http or https URL; %q is not one.", strings.TrimSpace(input)), nil
			}
			if err != nil {
				return "", err
			}
			if !page.OK() {
				return fmt.Sprintf("The page at %s could not be read (HTTP %d).", page.URL, page.StatusCode), nil
			}

			var b strings.Builder
			if page.Title != "" {
				fmt.Fprintf(&b, "Title: %s\n", page.Title)
			}
			fmt.Fprintf(&b, "URL: %s\n\n%s", page.URL, page.Text)
			if page.Truncated {
				b.WriteString("\n\n[content truncated]")
			}
			return b.String(), nil
		},
	}
}
