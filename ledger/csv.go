/*
csv.go - CSV export of the collection history

PURPOSE:
  Pure function history -> text, consumed by the download endpoint and the
  agent's -export action. Column headers and row labels are kept in
  Portuguese: that is the contract the operators' spreadsheets expect.

FORMAT:
  Header:  Data,Operador,Quantidade (g),Acumulado (g),Rodada,Tipo
  Rows:    quoted fields, one per entry, newest first (history order).
  Swap rows have an empty quantity column and type "Troca de Cilindro".
*/
package ledger

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	csvHeader       = "Data,Operador,Quantidade (g),Acumulado (g),Rodada,Tipo"
	csvDateLayout   = "02/01/2006 15:04:05"
	typeCollection  = "Recolhimento"
	typeSwap        = "Troca de Cilindro"
	unknownOperator = "Não informado"
)

// ExportCSV renders the history as CSV text, header first, in history order.
func ExportCSV(history []Entry) string {
	var b strings.Builder
	b.WriteString(csvHeader)
	b.WriteByte('\n')

	for i, e := range history {
		if i > 0 {
			b.WriteByte('\n')
		}

		tipo := typeCollection
		quantity := strconv.FormatFloat(e.Quantity, 'f', -1, 64)
		if e.CylinderSwap {
			tipo = typeSwap
			quantity = ""
		}

		operator := e.Operator
		if operator == "" {
			operator = unknownOperator
		}

		fmt.Fprintf(&b, "%q,%q,%q,%q,%q,%q",
			e.Timestamp.Format(csvDateLayout),
			operator,
			quantity,
			strconv.FormatFloat(e.AccumulatedAfter, 'f', -1, 64),
			strconv.Itoa(e.Round),
			tipo,
		)
	}
	return b.String()
}
