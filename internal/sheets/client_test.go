package sheets

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"price-gap-monitor/internal/storage"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type recordedCall struct {
	method string
	path   string
	query  url.Values
	body   []byte
}

// newRecordingServer spins up a fake values API and a client wired to it.
func newRecordingServer(t *testing.T, respond func(call recordedCall) (int, string)) (*Client, *[]recordedCall) {
	t.Helper()

	calls := &[]recordedCall{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("读取请求体失败: %v", err)
		}
		call := recordedCall{method: r.Method, path: r.URL.Path, query: r.URL.Query(), body: body}
		*calls = append(*calls, call)

		status, payload := http.StatusOK, "{}"
		if respond != nil {
			status, payload = respond(call)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(payload))
	}))
	t.Cleanup(srv.Close)

	client := NewClient(Options{BaseURL: srv.URL}, noopLogger())
	client.client = srv.Client()
	return client, calls
}

func TestValuesReadsRows(t *testing.T) {
	client, calls := newRecordingServer(t, func(recordedCall) (int, string) {
		return http.StatusOK, `{"range":"WATCHLIST!A1:H","majorDimension":"ROWS","values":[["product_group_key","channel"],["SKU-1","paris"],[60,true,null]]}`
	})

	rows, err := client.Values(context.Background(), "sheet-id", "WATCHLIST")
	if err != nil {
		t.Fatalf("读取表格失败: %v", err)
	}

	call := (*calls)[0]
	if call.method != http.MethodGet || call.path != "/spreadsheets/sheet-id/values/WATCHLIST" {
		t.Fatalf("请求不符合预期: %s %s", call.method, call.path)
	}
	if len(rows) != 3 {
		t.Fatalf("期望 3 行, 得到 %d", len(rows))
	}
	if rows[1][0] != "SKU-1" {
		t.Fatalf("字符串单元格解析错误: %q", rows[1][0])
	}
	if rows[2][0] != "60" || rows[2][1] != "TRUE" || rows[2][2] != "" {
		t.Fatalf("混合类型单元格解析错误: %v", rows[2])
	}
}

func TestValuesAPIError(t *testing.T) {
	client, _ := newRecordingServer(t, func(recordedCall) (int, string) {
		return http.StatusForbidden, `{"error":{"code":403,"message":"The caller does not have permission","status":"PERMISSION_DENIED"}}`
	})

	_, err := client.Values(context.Background(), "sheet-id", "WATCHLIST")
	if err == nil {
		t.Fatal("期望报错, 实际成功")
	}
	if !strings.Contains(err.Error(), "does not have permission") {
		t.Fatalf("错误信息未携带 API 描述: %v", err)
	}
}

func TestValuesWithoutCredentials(t *testing.T) {
	client := NewClient(Options{}, noopLogger())
	if _, err := client.Values(context.Background(), "sheet-id", "WATCHLIST"); err == nil {
		t.Fatal("缺少凭证文件时必须报错")
	}
}

func TestUpdateSendsUserEnteredRows(t *testing.T) {
	client, calls := newRecordingServer(t, nil)

	rows := [][]string{{"a", "b"}, {"c", "d"}}
	if err := client.Update(context.Background(), "sheet-id", "TAB", rows); err != nil {
		t.Fatalf("写入失败: %v", err)
	}

	call := (*calls)[0]
	if call.method != http.MethodPut || call.path != "/spreadsheets/sheet-id/values/TAB" {
		t.Fatalf("请求不符合预期: %s %s", call.method, call.path)
	}
	if call.query.Get("valueInputOption") != "USER_ENTERED" {
		t.Fatalf("valueInputOption 错误: %v", call.query)
	}

	var payload valueRangePayload
	if err := json.Unmarshal(call.body, &payload); err != nil {
		t.Fatalf("请求体解析失败: %v", err)
	}
	if payload.Range != "TAB" || payload.MajorDimension != "ROWS" || len(payload.Values) != 2 {
		t.Fatalf("请求体不符合预期: %+v", payload)
	}
}

func TestAppendUsesInsertRows(t *testing.T) {
	client, calls := newRecordingServer(t, nil)

	if err := client.Append(context.Background(), "sheet-id", "HIST", [][]string{{"x"}}); err != nil {
		t.Fatalf("追加失败: %v", err)
	}

	call := (*calls)[0]
	if call.method != http.MethodPost || call.path != "/spreadsheets/sheet-id/values/HIST:append" {
		t.Fatalf("请求不符合预期: %s %s", call.method, call.path)
	}
	if call.query.Get("insertDataOption") != "INSERT_ROWS" {
		t.Fatalf("insertDataOption 错误: %v", call.query)
	}
}

func TestClearPostsToClearVerb(t *testing.T) {
	client, calls := newRecordingServer(t, nil)

	if err := client.Clear(context.Background(), "sheet-id", "TAB"); err != nil {
		t.Fatalf("清空失败: %v", err)
	}

	call := (*calls)[0]
	if call.method != http.MethodPost || call.path != "/spreadsheets/sheet-id/values/TAB:clear" {
		t.Fatalf("请求不符合预期: %s %s", call.method, call.path)
	}
}

func testAlert() storage.Alert {
	return storage.Alert{
		ID:                    7,
		ProductGroupKey:       "SKU-1",
		Channel:               "paris",
		Kind:                  storage.KindGapOverThreshold,
		Detail:                "own 119990 CLP vs min competitor 99990 (Rival)",
		OwnPrice:              dec("119990"),
		MinCompetitorPrice:    dec("99990"),
		GapPct:                dec("0.2"),
		EndpointOwn:           "https://own.example/p/1",
		EndpointMinCompetitor: "https://rival.example/p/1",
		CreatedAt:             time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC),
	}
}

func TestExportOpenClearsThenRewrites(t *testing.T) {
	client, calls := newRecordingServer(t, nil)
	exporter := NewExporter(client, ExporterOptions{SpreadsheetID: "sheet-id"}, noopLogger())

	if err := exporter.ExportOpen(context.Background(), []storage.Alert{testAlert()}); err != nil {
		t.Fatalf("导出失败: %v", err)
	}

	if len(*calls) != 2 {
		t.Fatalf("期望 clear+update 两次调用, 得到 %d", len(*calls))
	}
	if !strings.HasSuffix((*calls)[0].path, "ALERTAS_ABIERTAS:clear") {
		t.Fatalf("第一步必须清空: %s", (*calls)[0].path)
	}

	var payload valueRangePayload
	if err := json.Unmarshal((*calls)[1].body, &payload); err != nil {
		t.Fatalf("请求体解析失败: %v", err)
	}
	if len(payload.Values) != 2 {
		t.Fatalf("期望表头加一行, 得到 %d 行", len(payload.Values))
	}
	if payload.Values[0][0] != "timestamp" {
		t.Fatalf("表头错误: %v", payload.Values[0])
	}

	row := payload.Values[1]
	if row[0] != "2025-06-02T12:00:00Z" || row[1] != "SKU-1" || row[2] != "paris" {
		t.Fatalf("行内容错误: %v", row)
	}
	if row[4] != "119990.00" || row[5] != "99990.00" || row[6] != "0.2000" {
		t.Fatalf("数值格式错误: %v", row)
	}
	if row[10] != "FALSE" {
		t.Fatalf("resolved 列错误: %v", row)
	}
}

func TestAppendHistoryWritesHeaderOnEmptyTab(t *testing.T) {
	client, calls := newRecordingServer(t, func(call recordedCall) (int, string) {
		if call.method == http.MethodGet {
			return http.StatusOK, `{"values":[]}`
		}
		return http.StatusOK, "{}"
	})
	exporter := NewExporter(client, ExporterOptions{SpreadsheetID: "sheet-id"}, noopLogger())

	if err := exporter.AppendHistory(context.Background(), []storage.Alert{testAlert()}); err != nil {
		t.Fatalf("追加历史失败: %v", err)
	}

	appendCall := (*calls)[1]
	var payload valueRangePayload
	if err := json.Unmarshal(appendCall.body, &payload); err != nil {
		t.Fatalf("请求体解析失败: %v", err)
	}
	if len(payload.Values) != 2 || payload.Values[0][0] != "timestamp" {
		t.Fatalf("空表必须先写表头: %v", payload.Values)
	}
}

func TestAppendHistorySkipsHeaderWhenTabHasRows(t *testing.T) {
	client, calls := newRecordingServer(t, func(call recordedCall) (int, string) {
		if call.method == http.MethodGet {
			return http.StatusOK, `{"values":[["timestamp"],["2025-06-01T00:00:00Z"]]}`
		}
		return http.StatusOK, "{}"
	})
	exporter := NewExporter(client, ExporterOptions{SpreadsheetID: "sheet-id"}, noopLogger())

	if err := exporter.AppendHistory(context.Background(), []storage.Alert{testAlert()}); err != nil {
		t.Fatalf("追加历史失败: %v", err)
	}

	var payload valueRangePayload
	if err := json.Unmarshal((*calls)[1].body, &payload); err != nil {
		t.Fatalf("请求体解析失败: %v", err)
	}
	if len(payload.Values) != 1 {
		t.Fatalf("已有表头时不得重复写入: %v", payload.Values)
	}
}

func TestAppendHistoryNoAlertsIsNoop(t *testing.T) {
	client, calls := newRecordingServer(t, nil)
	exporter := NewExporter(client, ExporterOptions{SpreadsheetID: "sheet-id"}, noopLogger())

	if err := exporter.AppendHistory(context.Background(), nil); err != nil {
		t.Fatalf("空集合必须直接返回: %v", err)
	}
	if len(*calls) != 0 {
		t.Fatal("空集合不应触发任何请求")
	}
}
