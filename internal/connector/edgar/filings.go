package edgar

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/inletfeed/inlet/internal/connector"
)

// Filing is the provider-neutral raw item emitted for both filing types.
type Filing struct {
	FilingType string `json:"filing_type"`
	Accession  string `json:"accession"`
	FiledAt    string `json:"filed_at,omitempty"`
	IndexURL   string `json:"index_url,omitempty"`

	// Form 4 fields.
	Issuer       string        `json:"issuer,omitempty"`
	IssuerSymbol string        `json:"issuer_symbol,omitempty"`
	Owner        string        `json:"owner,omitempty"`
	OwnerTitle   string        `json:"owner_title,omitempty"`
	Transactions []Transaction `json:"transactions,omitempty"`
	TotalValue   float64       `json:"total_value,omitempty"`

	// 13F fields.
	Institution   string    `json:"institution,omitempty"`
	Holdings      []Holding `json:"holdings,omitempty"`
	HoldingsValue float64   `json:"holdings_value,omitempty"`
}

// Transaction is one Form 4 non-derivative transaction.
type Transaction struct {
	Code          string  `json:"code"`
	Date          string  `json:"date,omitempty"`
	Shares        float64 `json:"shares,omitempty"`
	PricePerShare float64 `json:"price_per_share,omitempty"`
	Value         float64 `json:"value,omitempty"`
	Disposition   string  `json:"disposition,omitempty"` // "A" acquired, "D" disposed
}

// Holding is one 13F information-table row. Value is in thousands of USD,
// as reported.
type Holding struct {
	Issuer string  `json:"issuer"`
	Class  string  `json:"class,omitempty"`
	CUSIP  string  `json:"cusip,omitempty"`
	Value  float64 `json:"value,omitempty"`
	Shares float64 `json:"shares,omitempty"`
}

var (
	ownershipDocRe = regexp.MustCompile(`(?s)<ownershipDocument[^>]*>.*?</ownershipDocument>`)
	infoTableRe    = regexp.MustCompile(`(?s)<(?:\w+:)?informationTable[^>]*>.*?</(?:\w+:)?informationTable>`)
	nsPrefixRe     = regexp.MustCompile(`<(/?)\w+:`)
)

// fetchFilingDetail resolves one feed entry into a Filing by rewriting the
// Atom link to the full submission text file and cutting out the embedded
// XML document.
func (c *Connector) fetchFilingDetail(ctx context.Context, filingType string, entry feedEntry, cfg Config) (json.RawMessage, error) {
	txtURL := strings.Replace(entry.link, "-index.htm", ".txt", 1)

	body, err := c.doGet(ctx, txtURL)
	if err != nil {
		return nil, fmt.Errorf("filing %s: %w", entry.accession, err)
	}

	filing := Filing{
		FilingType: filingType,
		Accession:  entry.accession,
		FiledAt:    connector.FormatTime(entry.filedAt),
		IndexURL:   entry.link,
	}

	switch filingType {
	case FilingForm4:
		if err := parseForm4(body, &filing); err != nil {
			return nil, fmt.Errorf("filing %s: %w", entry.accession, err)
		}
		if cfg.MinTransactionValue > 0 && filing.TotalValue < cfg.MinTransactionValue {
			return nil, nil
		}
	case Filing13F:
		if err := parse13F(body, entry.title, &filing); err != nil {
			return nil, fmt.Errorf("filing %s: %w", entry.accession, err)
		}
	}

	return json.Marshal(filing)
}

// form4Doc mirrors the relevant parts of the ownershipDocument XML.
type form4Doc struct {
	Issuer struct {
		Name   string `xml:"issuerName"`
		Symbol string `xml:"issuerTradingSymbol"`
	} `xml:"issuer"`
	Owner struct {
		ID struct {
			Name string `xml:"rptOwnerName"`
		} `xml:"reportingOwnerId"`
		Relationship struct {
			OfficerTitle string `xml:"officerTitle"`
		} `xml:"reportingOwnerRelationship"`
	} `xml:"reportingOwner"`
	Transactions []struct {
		Date struct {
			Value string `xml:"value"`
		} `xml:"transactionDate"`
		Coding struct {
			Code string `xml:"transactionCode"`
		} `xml:"transactionCoding"`
		Amounts struct {
			Shares struct {
				Value string `xml:"value"`
			} `xml:"transactionShares"`
			Price struct {
				Value string `xml:"value"`
			} `xml:"transactionPricePerShare"`
			Disposition struct {
				Value string `xml:"value"`
			} `xml:"transactionAcquiredDisposedCode"`
		} `xml:"transactionAmounts"`
	} `xml:"nonDerivativeTable>nonDerivativeTransaction"`
}

func parseForm4(submission []byte, filing *Filing) error {
	doc := ownershipDocRe.Find(submission)
	if doc == nil {
		return fmt.Errorf("no ownershipDocument in submission")
	}

	var parsed form4Doc
	if err := xml.Unmarshal(doc, &parsed); err != nil {
		return fmt.Errorf("parse form 4 xml: %w", err)
	}

	filing.Issuer = strings.TrimSpace(parsed.Issuer.Name)
	filing.IssuerSymbol = strings.TrimSpace(parsed.Issuer.Symbol)
	filing.Owner = strings.TrimSpace(parsed.Owner.ID.Name)
	filing.OwnerTitle = strings.TrimSpace(parsed.Owner.Relationship.OfficerTitle)

	for _, t := range parsed.Transactions {
		tx := Transaction{
			Code:          strings.TrimSpace(t.Coding.Code),
			Date:          strings.TrimSpace(t.Date.Value),
			Shares:        parseNumber(t.Amounts.Shares.Value),
			PricePerShare: parseNumber(t.Amounts.Price.Value),
			Disposition:   strings.TrimSpace(t.Amounts.Disposition.Value),
		}
		tx.Value = tx.Shares * tx.PricePerShare
		filing.TotalValue += tx.Value
		filing.Transactions = append(filing.Transactions, tx)
	}
	return nil
}

// infoTableDoc mirrors the 13F information table XML.
type infoTableDoc struct {
	Rows []struct {
		Issuer string `xml:"nameOfIssuer"`
		Class  string `xml:"titleOfClass"`
		CUSIP  string `xml:"cusip"`
		Value  string `xml:"value"`
		Amount struct {
			Shares string `xml:"sshPrnamt"`
		} `xml:"shrsOrPrnAmt"`
	} `xml:"infoTable"`
}

func parse13F(submission []byte, entryTitle string, filing *Filing) error {
	filing.Institution = institutionFromTitle(entryTitle)

	table := infoTableRe.Find(submission)
	if table == nil {
		return fmt.Errorf("no informationTable in submission")
	}
	// Some filers prefix every element; local-name matching is simpler
	// with the prefixes stripped.
	cleaned := nsPrefixRe.ReplaceAll(table, []byte("<$1"))

	var parsed infoTableDoc
	if err := xml.Unmarshal(cleaned, &parsed); err != nil {
		return fmt.Errorf("parse 13f xml: %w", err)
	}

	for _, row := range parsed.Rows {
		h := Holding{
			Issuer: strings.TrimSpace(row.Issuer),
			Class:  strings.TrimSpace(row.Class),
			CUSIP:  strings.TrimSpace(row.CUSIP),
			Value:  parseNumber(row.Value),
			Shares: parseNumber(row.Amount.Shares),
		}
		if h.Issuer == "" {
			continue
		}
		filing.HoldingsValue += h.Value
		filing.Holdings = append(filing.Holdings, h)
	}
	return nil
}

func institutionFromTitle(title string) string {
	if m := entryCompanyRe.FindStringSubmatch(title); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

func parseNumber(s string) float64 {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

// transactionVerbs maps common Form 4 transaction codes to readable verbs.
var transactionVerbs = map[string]string{
	"P": "Purchase",
	"S": "Sale",
	"A": "Grant",
	"D": "Disposition",
	"F": "Tax withholding",
	"M": "Option exercise",
	"G": "Gift",
}

// Normalize maps one filing to a draft. A Form 4 without an issuer name or
// a 13F without an institution name is structurally malformed and fails.
func (c *Connector) Normalize(raw json.RawMessage, params connector.FetchParams) (connector.ContentItemDraft, error) {
	var filing Filing
	if err := json.Unmarshal(raw, &filing); err != nil {
		return connector.ContentItemDraft{}, fmt.Errorf("edgar: decode raw item: %w", err)
	}
	if filing.Accession == "" {
		return connector.ContentItemDraft{}, fmt.Errorf("edgar: filing missing accession number")
	}

	switch filing.FilingType {
	case FilingForm4:
		return normalizeForm4(filing, raw)
	case Filing13F:
		return normalize13F(filing, raw)
	default:
		return connector.ContentItemDraft{}, fmt.Errorf("edgar: unknown filing type %q", filing.FilingType)
	}
}

func normalizeForm4(filing Filing, raw json.RawMessage) (connector.ContentItemDraft, error) {
	if filing.Issuer == "" {
		return connector.ContentItemDraft{}, fmt.Errorf("edgar: form 4 %s missing issuer name", filing.Accession)
	}

	title := fmt.Sprintf("%s: insider transaction", filing.Issuer)
	if filing.Owner != "" {
		title = fmt.Sprintf("%s: insider transaction by %s", filing.Issuer, filing.Owner)
	}

	var lines []string
	if filing.OwnerTitle != "" {
		lines = append(lines, fmt.Sprintf("%s (%s)", filing.Owner, filing.OwnerTitle))
	}
	for _, tx := range filing.Transactions {
		verb := transactionVerbs[tx.Code]
		if verb == "" {
			verb = "Transaction " + tx.Code
		}
		line := verb
		if tx.Date != "" {
			line += " " + tx.Date
		}
		if tx.Shares > 0 {
			line += fmt.Sprintf(": %.0f shares", tx.Shares)
		}
		if tx.PricePerShare > 0 {
			line += fmt.Sprintf(" @ $%.2f", tx.PricePerShare)
		}
		if tx.Value > 0 {
			line += fmt.Sprintf(" ($%.0f)", tx.Value)
		}
		lines = append(lines, line)
	}

	metadata := map[string]any{
		"filing_type":       FilingForm4,
		"transaction_count": len(filing.Transactions),
	}
	if filing.IssuerSymbol != "" {
		metadata["symbol"] = filing.IssuerSymbol
	}
	if filing.TotalValue > 0 {
		metadata["total_value"] = filing.TotalValue
	}

	return connector.ContentItemDraft{
		Title:        title,
		BodyText:     strings.Join(lines, "\n"),
		CanonicalURL: filing.IndexURL,
		SourceType:   SourceType,
		ExternalID:   filing.Accession,
		PublishedAt:  connector.ParseTime(filing.FiledAt),
		Author:       filing.Owner,
		Metadata:     metadata,
		Raw:          connector.BoundRaw(raw),
	}, nil
}

func normalize13F(filing Filing, raw json.RawMessage) (connector.ContentItemDraft, error) {
	if filing.Institution == "" {
		return connector.ContentItemDraft{}, fmt.Errorf("edgar: 13f %s missing institution name", filing.Accession)
	}

	lines := []string{fmt.Sprintf("%d reported holdings, $%.0fK total value", len(filing.Holdings), filing.HoldingsValue)}
	top := filing.Holdings
	if len(top) > 10 {
		top = top[:10]
	}
	for _, h := range top {
		line := h.Issuer
		if h.Shares > 0 {
			line += fmt.Sprintf(": %.0f shares", h.Shares)
		}
		if h.Value > 0 {
			line += fmt.Sprintf(" ($%.0fK)", h.Value)
		}
		lines = append(lines, line)
	}

	return connector.ContentItemDraft{
		Title:        fmt.Sprintf("%s: 13F holdings update", filing.Institution),
		BodyText:     strings.Join(lines, "\n"),
		CanonicalURL: filing.IndexURL,
		SourceType:   SourceType,
		ExternalID:   filing.Accession,
		PublishedAt:  connector.ParseTime(filing.FiledAt),
		Author:       filing.Institution,
		Metadata: map[string]any{
			"filing_type":    Filing13F,
			"holdings_count": len(filing.Holdings),
			"holdings_value": filing.HoldingsValue,
		},
		Raw: connector.BoundRaw(raw),
	}, nil
}
