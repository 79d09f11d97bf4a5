package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kalambet/nodebench/internal/search"
)

const secFilings = 6

// FilingLister is implemented by search.SECClient.
type FilingLister interface {
	Filings(ctx context.Context, company string, forms []string, limit int) ([]search.Filing, error)
}

// SECAgent lists recent periodic and current reports for a company.
type SECAgent struct {
	filings FilingLister
}

func NewSECAgent(f FilingLister) *SECAgent {
	return &SECAgent{filings: f}
}

func (a *SECAgent) Name() string { return SEC }

func (a *SECAgent) Run(ctx context.Context, req Request) (Result, error) {
	company := ""
	if len(req.Entities) > 0 {
		company = req.Entities[0]
	} else if names := ExtractEntities(req.Prompt); len(names) > 0 {
		company = names[0]
	}
	if company == "" {
		return Result{}, errors.New("no company named in prompt")
	}

	filings, err := a.filings.Filings(ctx, company, search.DefaultForms, secFilings)
	if err != nil {
		return Result{}, fmt.Errorf("edgar filings for %s: %w", company, err)
	}
	if len(filings) == 0 {
		return Result{Agent: SEC, Content: fmt.Sprintf("No recent filings found for %s.", company)}, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Recent filings for **%s**:\n", company)
	sources := make([]string, 0, len(filings))
	for _, f := range filings {
		fmt.Fprintf(&sb, "- %s filed %s", f.Form, f.FiledAt)
		if f.URL != "" {
			fmt.Fprintf(&sb, " ([%s](%s))", f.AccessionNumber, f.URL)
			sources = append(sources, f.URL)
		}
		sb.WriteByte('\n')
	}
	return Result{Agent: SEC, Content: strings.TrimRight(sb.String(), "\n"), Sources: sources}, nil
}
