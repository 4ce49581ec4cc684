package main

import (
	"bytes"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestExportCheckins(t *testing.T) {
	e := newTestEnv(t)
	w80, kcal := 80.5, 1650
	trained := true
	kraft := "kraft"
	e.seed(t, 1, checkinRow{WeightKG: &w80, CaloriesIntake: &kcal, Trained: &trained, ActivityType: &kraft})
	e.seed(t, 0, checkinRow{})

	w := e.do(http.MethodGet, "/api/checkins/export?start=2026-03-01&end=2026-03-05", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "checkins_2026-03-01_2026-03-05.xlsx")

	f, err := excelize.OpenReader(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(exportSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Datum", rows[0][0])
	assert.Equal(t, "Notizen", rows[0][len(exportColumns)-1])
	assert.Equal(t, "2026-03-04", rows[1][0])
	assert.Equal(t, "kraft", rows[1][4])
	assert.Equal(t, "1650", rows[1][7])
	assert.Equal(t, "2026-03-05", rows[2][0])
}

func TestExportCheckins_RequiresRange(t *testing.T) {
	e := newTestEnv(t)
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodGet, "/api/checkins/export", "").Code)
}

func TestExportRow_TrainingColumn(t *testing.T) {
	yes, no := true, false
	assert.Equal(t, "", exportRow(checkinRow{})[4])
	assert.Equal(t, activityRestDay, exportRow(checkinRow{Trained: &no})[4])
	assert.Equal(t, "ja", exportRow(checkinRow{Trained: &yes})[4])
}
