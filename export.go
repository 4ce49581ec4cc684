package main

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

const exportSheet = "Check-ins"

var exportColumns = []struct {
	title string
	width float64
}{
	{"Datum", 12},
	{"Gewicht (kg)", 13},
	{"Hunger", 8},
	{"Energie", 8},
	{"Training", 14},
	{"Dauer (min)", 11},
	{"Aktivität (kcal)", 15},
	{"Kalorien", 10},
	{"Protein (g)", 11},
	{"Kohlenhydrate (g)", 17},
	{"Fett (g)", 9},
	{"Notizen", 40},
}

// exportCheckins streams the check-ins in a date range as an XLSX workbook.
// GET /api/checkins/export?start=YYYY-MM-DD&end=YYYY-MM-DD.
func (h *Handler) exportCheckins(c *gin.Context) {
	start, end, ok := parseDateRange(c)
	if !ok {
		return
	}
	rows, err := h.store.ListCheckins(c, c.GetInt("user_id"), start, end)
	if err != nil {
		h.storeError(c, err, "check-ins not found", "failed to fetch check-ins")
		return
	}

	f, err := buildCheckinWorkbook(rows)
	if err != nil {
		h.log.Error("build export workbook", zap.Error(err))
		apiError(c, http.StatusInternalServerError, "failed to build export")
		return
	}
	defer f.Close()

	filename := fmt.Sprintf("checkins_%s_%s.xlsx", c.Query("start"), c.Query("end"))
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Status(http.StatusOK)
	if err := f.Write(c.Writer); err != nil {
		h.log.Error("write export workbook", zap.Error(err))
	}
}

// buildCheckinWorkbook lays out one row per check-in under a bold header row.
// Unset fields stay empty cells.
func buildCheckinWorkbook(rows []checkinRow) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "#FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#2E75B6"}, Pattern: 1},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("header style: %w", err)
	}

	titles := make([]interface{}, len(exportColumns))
	for i, col := range exportColumns {
		titles[i] = col.title
		name, _ := excelize.ColumnNumberToName(i + 1)
		if err := f.SetColWidth(exportSheet, name, name, col.width); err != nil {
			f.Close()
			return nil, fmt.Errorf("column width: %w", err)
		}
	}
	if err := f.SetSheetRow(exportSheet, "A1", &titles); err != nil {
		f.Close()
		return nil, fmt.Errorf("header row: %w", err)
	}
	lastCol, _ := excelize.ColumnNumberToName(len(exportColumns))
	if err := f.SetCellStyle(exportSheet, "A1", lastCol+"1", header); err != nil {
		f.Close()
		return nil, fmt.Errorf("header style: %w", err)
	}
	if err := f.SetPanes(exportSheet, &excelize.Panes{
		Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft",
	}); err != nil {
		f.Close()
		return nil, fmt.Errorf("freeze header: %w", err)
	}

	for i, r := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		values := exportRow(r)
		if err := f.SetSheetRow(exportSheet, cell, &values); err != nil {
			f.Close()
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
	}
	return f, nil
}

func exportRow(r checkinRow) []interface{} {
	training := ""
	if r.Trained != nil {
		training = activityRestDay
		if *r.Trained {
			training = "ja"
			if r.ActivityType != nil {
				training = *r.ActivityType
			}
		}
	}
	return []interface{}{
		r.CreatedAt.UTC().Format("2006-01-02"),
		nilIfNil(r.WeightKG),
		nilIfNil(r.HungerLevel),
		nilIfNil(r.EnergyLevel),
		training,
		nilIfNil(r.ActivityDurationMin),
		nilIfNil(r.ActivityCalories),
		nilIfNil(r.CaloriesIntake),
		nilIfNil(r.ProteinIntake),
		nilIfNil(r.CarbsIntake),
		nilIfNil(r.FatIntake),
		nilIfNil(r.Notes),
	}
}
