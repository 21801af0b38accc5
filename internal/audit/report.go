package audit

import (
	"fmt"
	"strconv"
	"time"

	"github.com/nwfth/rm-unpick/pkg/export"
)

var reportHeaders = []string{
	"RunNo", "RowNum", "LineId", "ItemKey", "BatchNo", "ToPickedQty", "RemovedBy", "RemovedAt",
}

// Dataset shapes journal entries into an exportable table.
func Dataset(entries []Entry) export.Dataset {
	rows := make([]map[string]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, map[string]string{
			"RunNo":       strconv.Itoa(e.RunNo),
			"RowNum":      strconv.Itoa(e.RowNum),
			"LineId":      strconv.Itoa(e.LineID),
			"ItemKey":     e.ItemKey,
			"BatchNo":     e.BatchNo,
			"ToPickedQty": strconv.FormatFloat(e.ToPickedQty, 'f', -1, 64),
			"RemovedBy":   e.UserLogon,
			"RemovedAt":   e.RemovedAt.Format(time.RFC3339),
		})
	}
	return export.Dataset{Headers: reportHeaders, Rows: rows}
}

// WriteReport renders the entries for a run into dir as CSV or PDF and
// returns the written path.
func WriteReport(dir string, runNo int, format string, entries []Entry) (string, error) {
	name := fmt.Sprintf("removals-run-%d-%s", runNo, time.Now().Format("20060102-150405"))
	title := fmt.Sprintf("Partial picking removals - RunNo %d", runNo)
	return export.WriteFile(dir, name, format, Dataset(entries), title)
}
