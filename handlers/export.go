package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
	"p9e.in/gridops/models"
)

// ExportWorkOrders handles GET /captain/workorders/export and streams an
// Excel snapshot of all work orders.
func (h *CaptainHandler) ExportWorkOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.store.AllOrders(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	f, err := buildWorkOrderSheet(orders)
	if err != nil {
		http.Error(w, "failed to build export: "+err.Error(), http.StatusInternalServerError)
		return
	}

	filename := fmt.Sprintf("work-orders-%s.xlsx", time.Now().Format("20060102-150405"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	if err := f.Write(w); err != nil {
		// Headers are gone already, just note the broken stream.
		fmt.Println("export write failed:", err)
	}
}

func buildWorkOrderSheet(orders []models.WorkOrder) (*excelize.File, error) {
	f := excelize.NewFile()
	const sheet = "Sheet1"

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"DDEBF7"}},
	})

	headers := []string{"Work ID", "Status", "Description", "Address", "Building",
		"Submitter", "Handler", "Created", "Updated", "Deadline", "Resolved"}
	for i, label := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheet, cell, label)
		f.SetCellStyle(sheet, cell, cell, headerStyle)
	}

	for row, o := range orders {
		values := []interface{}{
			o.WorkID.String(),
			string(o.Status),
			o.Description,
			o.Address,
			o.BuildingInfo,
			o.SubmitterID.String(),
			formatOptionalID(o.HandlerID),
			o.CreatedAt.Format("2006-01-02 15:04"),
			o.UpdatedAt.Format("2006-01-02 15:04"),
			formatOptionalTime(o.Deadline),
			formatOptionalTime(o.ResolvedAt),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			f.SetCellValue(sheet, cell, v)
		}
	}

	f.SetColWidth(sheet, "A", "A", 38)
	f.SetColWidth(sheet, "C", "D", 40)
	return f, nil
}

func formatOptionalID(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02 15:04")
}
