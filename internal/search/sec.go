package search

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// DefaultSECBaseURL is EDGAR full-text search.
const DefaultSECBaseURL = "https://efts.sec.gov/LATEST"

// DefaultForms are the periodic and current report types listed by default.
var DefaultForms = []string{"10-K", "10-Q", "8-K"}

// Filing is one EDGAR filing hit.
type Filing struct {
	Company         string `json:"company"`
	Form            string `json:"form"`
	FiledAt         string `json:"filedAt"`
	AccessionNumber string `json:"accessionNumber"`
	URL             string `json:"url"`
}

// SECClient queries EDGAR full-text search. The SEC requires a descriptive
// User-Agent naming the requester.
type SECClient struct {
	client *resty.Client
}

func NewSECClient(baseURL, userAgent string) *SECClient {
	if baseURL == "" {
		baseURL = DefaultSECBaseURL
	}
	return &SECClient{client: resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("User-Agent", userAgent).
		SetHeader("Accept", "application/json").
		SetTimeout(20 * time.Second)}
}

type eftsResponse struct {
	Hits struct {
		Hits []struct {
			ID     string `json:"_id"`
			Source struct {
				DisplayNames []string `json:"display_names"`
				Form         string   `json:"form"`
				FileDate     string   `json:"file_date"`
				ADSH         string   `json:"adsh"`
				CIKs         []string `json:"ciks"`
			} `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// Filings lists recent filings mentioning company, restricted to forms
// (DefaultForms when empty).
func (c *SECClient) Filings(ctx context.Context, company string, forms []string, limit int) ([]Filing, error) {
	company = strings.TrimSpace(company)
	if company == "" {
		return nil, errors.New("empty company name")
	}
	if len(forms) == 0 {
		forms = DefaultForms
	}
	if limit <= 0 {
		limit = defaultLimit
	}

	var out eftsResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"q":     `"` + company + `"`,
			"forms": strings.Join(forms, ","),
		}).
		SetResult(&out).
		Get("/search-index")
	if err != nil {
		return nil, fmt.Errorf("edgar request: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("edgar status %d: %s", resp.StatusCode(), truncate(resp.String(), 200))
	}

	var filings []Filing
	seen := make(map[string]bool)
	for _, h := range out.Hits.Hits {
		src := h.Source
		if src.ADSH == "" || seen[src.ADSH] {
			continue
		}
		seen[src.ADSH] = true
		f := Filing{Form: src.Form, FiledAt: src.FileDate, AccessionNumber: src.ADSH}
		if len(src.DisplayNames) > 0 {
			f.Company = src.DisplayNames[0]
		}
		if len(src.CIKs) > 0 {
			f.URL = filingURL(src.CIKs[0], src.ADSH, h.ID)
		}
		filings = append(filings, f)
		if len(filings) == limit {
			break
		}
	}
	return filings, nil
}

// filingURL builds the EDGAR archive URL from a CIK, an accession number and
// a search hit id of the form "<adsh>:<file name>".
func filingURL(cik, adsh, hitID string) string {
	cik = strings.TrimLeft(cik, "0")
	folder := strings.ReplaceAll(adsh, "-", "")
	base := "https://www.sec.gov/Archives/edgar/data/" + cik + "/" + folder
	if _, file, ok := strings.Cut(hitID, ":"); ok && file != "" {
		return base + "/" + file
	}
	return base + "/"
}
