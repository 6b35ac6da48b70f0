package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/dreamerjackson/devcat/engine"
	"github.com/dreamerjackson/devcat/scanner"
	"github.com/dreamerjackson/devcat/spider"
	"github.com/dreamerjackson/devcat/storage/csvstore"
	"github.com/jedib0t/go-pretty/v6/table"
)

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

func renderBrands(w io.Writer, brands []spider.Brand) {
	t := newTable(w)
	t.AppendHeader(table.Row{"#", "Brand", "Devices", "URL"})
	total := 0
	for i, b := range brands {
		t.AppendRow(table.Row{i + 1, b.Name, b.DeviceCount, b.URL})
		total += b.DeviceCount
	}
	t.AppendFooter(table.Row{"", "Total", total, ""})
	t.Render()
}

func renderCacheStatus(w io.Writer, res scanner.Result) {
	st := res.Status
	source := "network"
	if res.FromCache {
		source = "cache"
	}
	state := "fresh"
	if st.IsExpired {
		state = "expired"
	}
	fmt.Fprintf(w, "brands from %s; cache holds %d brands, updated %s (%s)\n",
		source, st.BrandCount, st.TimeSinceUpdate, state)
}

func renderCompleted(w io.Writer, st engine.Status) {
	if len(st.CompletedBrands) == 0 {
		return
	}
	t := newTable(w)
	t.AppendHeader(table.Row{"Brand", "Listed", "Expected"})
	for _, b := range st.CompletedBrands {
		t.AppendRow(table.Row{b.Name, b.Devices, b.Expected})
	}
	t.AppendFooter(table.Row{"New / Updated / Failed",
		fmt.Sprintf("%d / %d / %d", st.NewDevices, st.UpdatedDevices, st.FailedDevices), ""})
	t.Render()
}

type tracker interface {
	CountBrand(brand string) int
	Len() int
	LastFullUpdate() *time.Time
}

func renderCatalog(w io.Writer, summary []csvstore.BrandCount, l tracker) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Brand", "Stored", "Tracked"})
	stored := 0
	for _, c := range summary {
		t.AppendRow(table.Row{c.Brand, c.Devices, l.CountBrand(c.Brand)})
		stored += c.Devices
	}
	t.AppendFooter(table.Row{"Total", stored, l.Len()})
	t.Render()

	last := "never"
	if ts := l.LastFullUpdate(); ts != nil {
		last = ts.Format(time.RFC3339)
	}
	fmt.Fprintf(w, "last full update: %s\n", last)
}
