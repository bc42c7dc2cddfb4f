package importer

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/aclindsa/ofxgo"
	"github.com/shopspring/decimal"

	"github.com/clearline/recon/internal/model"
)

// OFXParser parses OFX/QFX statement files into canonical records.
type OFXParser struct {
	source model.RecordSource
}

// NewOFXParser creates an OFX parser tagging records with the given source.
func NewOFXParser(source model.RecordSource) *OFXParser {
	return &OFXParser{source: source}
}

// Parse reads the OFX stream into canonical records.
func (p *OFXParser) Parse(r io.Reader) (*Result, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read OFX file: %w", err)
	}

	resp, err := ofxgo.ParseResponse(strings.NewReader(strings.TrimLeft(string(content), " \t\r\n")))
	if err != nil {
		return nil, fmt.Errorf("failed to parse OFX file: %w", err)
	}

	result := &Result{}
	var bankStmts, ccStmts int

	for _, msg := range resp.Bank {
		if stmt, ok := msg.(*ofxgo.StatementResponse); ok {
			bankStmts++
			p.processStatement(stmt.BankTranList, stmt.CurDef.String(), result)
		}
	}
	for _, msg := range resp.CreditCard {
		if stmt, ok := msg.(*ofxgo.CCStatementResponse); ok {
			ccStmts++
			p.processStatement(stmt.BankTranList, stmt.CurDef.String(), result)
		}
	}

	slog.Info("Parsed OFX file",
		"records", len(result.Records),
		"row_errors", len(result.RowErrors),
		"bank_statements", bankStmts,
		"cc_statements", ccStmts)
	return result, nil
}

func (p *OFXParser) processStatement(list *ofxgo.TransactionList, currency string, result *Result) {
	if list == nil {
		return
	}
	for i, ofxTx := range list.Transactions {
		rec, err := p.convert(ofxTx, currency)
		if err != nil {
			result.RowErrors = append(result.RowErrors, model.RowError{
				Line:   i + 1,
				Reason: err.Error(),
			})
			continue
		}
		result.Records = append(result.Records, *rec)
	}
}

func (p *OFXParser) convert(ofxTx ofxgo.Transaction, currency string) (*model.Record, error) {
	amount, err := decimal.NewFromString(ofxTx.TrnAmt.String())
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q", ofxTx.TrnAmt.String())
	}

	posted := ofxTx.DtPosted.Time
	date := time.Date(posted.Year(), posted.Month(), posted.Day(), 0, 0, 0, 0, time.UTC)

	recType := model.TypeUnknown
	// OFX uses negative amounts for debits.
	switch {
	case amount.IsNegative():
		recType = model.TypeDebit
	case amount.IsPositive():
		recType = model.TypeCredit
	}

	description := string(ofxTx.Name)
	if ofxTx.Payee != nil && ofxTx.Payee.Name != "" {
		description = string(ofxTx.Payee.Name)
	}

	return &model.Record{
		ID:          string(ofxTx.FiTID),
		Date:        date,
		Description: description,
		Amount:      amount,
		Currency:    currency,
		Type:        recType,
		Source:      p.source,
		Status:      model.StatusUnmatched,
	}, nil
}
