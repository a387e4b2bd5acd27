package reports

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	alerts "yard-ttms/internal/alerts/domain"
	yardapp "yard-ttms/internal/yard/application"
	yard "yard-ttms/internal/yard/domain"
)

const timeLayout = time.RFC3339

// VehicleHeader lists the vehicle report columns.
var VehicleHeader = []string{
	"sn",
	"reg_no",
	"rfid_no",
	"tare_wt",
	"wt_after",
	"progress",
	"ttr_min",
	"active_stage",
	"gate_entry",
	"tare_weighing",
	"loading",
	"post_loading_weighing",
	"gate_exit",
	"entered_at",
	"projected_exit",
}

// AlertHeader lists the alert report columns.
var AlertHeader = []string{
	"id",
	"registration",
	"stage",
	"wait_min",
	"standard_min",
	"ratio",
	"level",
	"acknowledged",
	"raised_at",
	"message",
	"acknowledged_by",
	"acknowledged_at",
}

// VehicleRecordRow flattens a row view into report cells. Stage cells read
// "state wait/std".
func VehicleRecordRow(row yardapp.RowView) []string {
	v := row.Vehicle
	out := []string{
		strconv.Itoa(v.SerialNo),
		v.Registration,
		v.RFIDNo,
		strconv.Itoa(v.TareWeight),
		strconv.Itoa(v.WeightAfter),
		strconv.Itoa(v.Progress),
		strconv.Itoa(row.TTR),
		string(row.ActiveStage),
	}
	for _, key := range yard.Stages {
		st := v.Stage(key)
		out = append(out, fmt.Sprintf("%s %d/%d", st.State, st.WaitTime, st.StdTime))
	}
	out = append(out, formatTime(v.CreatedAt), formatTime(row.Projected[yard.StageGateExit]))
	return out
}

// AlertRecordRow flattens an alert into report cells.
func AlertRecordRow(a alerts.AlertEvent) []string {
	return []string{
		a.ID,
		a.Registration,
		string(a.Stage),
		strconv.Itoa(a.WaitTime),
		strconv.Itoa(a.StandardTime),
		strconv.FormatFloat(a.ExceedanceRatio, 'f', 2, 64),
		string(a.Level),
		strconv.FormatBool(a.Acknowledged),
		formatTime(a.Timestamp),
		a.Message,
		a.AcknowledgedBy,
		formatAckTime(a.AcknowledgedAt),
	}
}

func formatAckTime(at *time.Time) string {
	if at == nil {
		return ""
	}
	return formatTime(*at)
}

// WriteVehiclesCSV writes the vehicle report as CSV.
func WriteVehiclesCSV(w io.Writer, rows []yardapp.RowView) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(VehicleHeader); err != nil {
		return err
	}
	for _, row := range rows {
		if err := writer.Write(VehicleRecordRow(row)); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// BuildVehiclesXLSX renders vehicles and, when given, alerts as sheets.
func BuildVehiclesXLSX(rows []yardapp.RowView, alertList []alerts.AlertEvent) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	vehicleSheet := "vehicles"
	if err := f.SetSheetName("Sheet1", vehicleSheet); err != nil {
		return nil, err
	}
	records := make([][]string, 0, len(rows))
	for _, row := range rows {
		records = append(records, VehicleRecordRow(row))
	}
	if err := writeSheet(f, vehicleSheet, VehicleHeader, records); err != nil {
		return nil, err
	}
	if alertList != nil {
		if err := addAlertSheet(f, alertList); err != nil {
			return nil, err
		}
	}
	return writeWorkbook(f)
}

// BuildAlertsXLSX renders alerts as a single sheet workbook.
func BuildAlertsXLSX(alertList []alerts.AlertEvent) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	if err := addAlertSheet(f, alertList); err != nil {
		return nil, err
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, err
	}
	return writeWorkbook(f)
}

// BuildVehiclesPDF renders a landscape turnaround report.
func BuildVehiclesPDF(rows []yardapp.RowView, generatedAt time.Time) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Yard Turnaround Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", generatedAt.UTC().Format(timeLayout)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Vehicles: %d", len(rows)))
	pdf.Ln(8)

	widths := []float64{12, 28, 18, 18, 30, 30, 30, 30, 30, 30}
	headers := []string{"SN", "Reg No", "TTR", "Progress", "Gate Entry", "Tare Weighing", "Loading", "Post Weighing", "Gate Exit", "Active"}
	pdf.SetFillColor(255, 236, 179)
	pdf.SetFont("Arial", "B", 9)
	for i, header := range headers {
		pdf.CellFormat(widths[i], 6, header, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 9)
	for _, row := range rows {
		v := row.Vehicle
		cells := []string{
			strconv.Itoa(v.SerialNo),
			v.Registration,
			strconv.Itoa(row.TTR),
			strconv.Itoa(v.Progress) + "%",
		}
		for _, key := range yard.Stages {
			st := v.Stage(key)
			cells = append(cells, fmt.Sprintf("%s %d/%d", row.Stages[key].Status, st.WaitTime, st.StdTime))
		}
		cells = append(cells, string(row.ActiveStage))
		for i, cell := range cells {
			align := "L"
			if i != 1 && i < 4 {
				align = "R"
			}
			pdf.CellFormat(widths[i], 6, cell, "1", 0, align, row.IsMaxTTR, 0, "")
		}
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func addAlertSheet(f *excelize.File, alertList []alerts.AlertEvent) error {
	sheet := "alerts"
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}
	records := make([][]string, 0, len(alertList))
	for _, a := range alertList {
		records = append(records, AlertRecordRow(a))
	}
	return writeSheet(f, sheet, AlertHeader, records)
}

func writeSheet(f *excelize.File, sheet string, header []string, records [][]string) error {
	for col, title := range header {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, title); err != nil {
			return err
		}
	}
	for i, record := range records {
		for col, value := range record {
			cell, err := excelize.CoordinatesToCellName(col+1, i+2)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheet, cell, value); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeWorkbook(f *excelize.File) ([]byte, error) {
	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}
