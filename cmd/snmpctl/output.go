package main

import (
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/mellowdrifter/snmpv2c/internal/protocol"
)

type hostResult struct {
	host     string
	varbinds []protocol.VarBind
}

// renderTable writes one row per varbind. The host column is only shown when
// several hosts were queried.
func renderTable(w io.Writer, results []hostResult, showHost bool) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)

	header := table.Row{"OID", "Type", "Value", "RTT"}
	if showHost {
		header = append(table.Row{"Host"}, header...)
	}
	t.AppendHeader(header)

	rows := 0
	for _, res := range results {
		for _, vb := range res.varbinds {
			row := table.Row{vb.OID.String(), vb.Type.String(), protocol.FormatValue(vb), rtt(vb)}
			if showHost {
				row = append(table.Row{res.host}, row...)
			}
			t.AppendRow(row)
			rows++
		}
	}
	if rows == 0 {
		return
	}
	t.Render()
}

func rtt(vb protocol.VarBind) string {
	if vb.SendStamp.IsZero() || vb.ReceiveStamp.IsZero() {
		return ""
	}
	return vb.ReceiveStamp.Sub(vb.SendStamp).Round(10 * time.Microsecond).String()
}
