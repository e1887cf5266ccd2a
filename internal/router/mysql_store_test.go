package router

import (
	"context"
	"database/sql/driver"
	"testing"

	gomysql "github.com/go-sql-driver/mysql"

	"IntentLayer-Lite/internal/compiler"
	"IntentLayer-Lite/internal/storage/mysql/mysqltest"
)

var recordColumnNames = []string{
	"id", "mandate_id", "agent", "intent_type", "payload", "status", "attempts", "max_retries", "terminal",
	"last_error", "error_code", "violations", "result", "created_at", "updated_at",
}

const storedPayload = `{"mandate_id":"m1","agent":"` + agentAddr + `","type":"transfer","token_in":"` + tokenAddr +
	`","amount_in":"400","expected_amount_out":"0","min_amount_out":"0","recipient":"` + recipientAddr + `"}`

func storedRow(id, status string, attempts, maxRetries, terminal int64, violations, result any) []driver.Value {
	return []driver.Value{
		id, "m1", agentAddr, "transfer", storedPayload, status, attempts, maxRetries, terminal,
		nil, "", violations, result, int64(10), int64(20),
	}
}

func TestMySQLStoreGetDecodesRecord(t *testing.T) {
	db, drv := mysqltest.NewDB(t,
		mysqltest.Query("FROM intent_records WHERE id = ?", recordColumnNames,
			storedRow("r1", "rejected", 1, 3, 1, `[{"rule":"token_not_allowed","message":"nope"}]`, nil)),
	)
	record, err := NewMySQLStore(db).Get(context.Background(), "r1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	drv.AssertConsumed(t)

	if record.Status != StatusRejected || !record.Terminal || !record.Final() {
		t.Fatalf("unexpected record %+v", record)
	}
	if record.Intent == nil || record.Intent.AmountIn.String() != "400" || record.Intent.Recipient != recipientAddr {
		t.Fatalf("payload not decoded: %+v", record.Intent)
	}
	if len(record.Violations) != 1 || record.Violations[0].Rule != compiler.RuleToken {
		t.Fatalf("violations not decoded: %+v", record.Violations)
	}
	if record.Result != nil || record.LastError != "" {
		t.Fatalf("unexpected optional fields %+v", record)
	}
}

func TestMySQLStoreGetMissing(t *testing.T) {
	db, _ := mysqltest.NewDB(t, mysqltest.Query("FROM intent_records WHERE id = ?", recordColumnNames))
	if _, err := NewMySQLStore(db).Get(context.Background(), "missing"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMySQLStoreCreateDuplicate(t *testing.T) {
	db, _ := mysqltest.NewDB(t,
		mysqltest.Exec("INSERT INTO intent_records", 0).WithError(&gomysql.MySQLError{Number: 1062, Message: "Duplicate entry"}),
	)
	err := NewMySQLStore(db).Create(context.Background(), &Record{ID: "r1", Intent: transferIntent("m1"), Status: StatusPending})
	if err != ErrIntentConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestMySQLStoreClaim(t *testing.T) {
	db, drv := mysqltest.NewDB(t,
		mysqltest.Exec("UPDATE intent_records SET status = ?, attempts = attempts + 1", 1),
		mysqltest.Query("FROM intent_records WHERE id = ?", recordColumnNames, storedRow("r1", "running", 1, 3, 0, nil, nil)),
	)
	record, err := NewMySQLStore(db).Claim(context.Background(), "r1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	drv.AssertConsumed(t)
	if record.Status != StatusRunning || record.Attempts != 1 {
		t.Fatalf("unexpected record %+v", record)
	}
	args := drv.Calls()[0].Args
	if args[0] != string(StatusRunning) || args[2] != "r1" || args[3] != string(StatusPending) || args[4] != string(StatusFailed) {
		t.Fatalf("unexpected claim args %+v", args)
	}
}

func TestMySQLStoreClaimExplainsRefusal(t *testing.T) {
	cases := []struct {
		name string
		row  []driver.Value
		want error
	}{
		{"running", storedRow("r1", "running", 1, 3, 0, nil, nil), ErrIntentConflict},
		{"confirmed", storedRow("r1", "confirmed", 1, 3, 0, nil, `{"adapter":"erc20-transfer"}`), ErrIntentCompleted},
		{"exhausted", storedRow("r1", "failed", 3, 3, 0, nil, nil), ErrIntentExhausted},
		{"terminal", storedRow("r1", "failed", 1, 3, 1, nil, nil), ErrIntentExhausted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			db, _ := mysqltest.NewDB(t,
				mysqltest.Exec("UPDATE intent_records SET status = ?", 0),
				mysqltest.Query("FROM intent_records WHERE id = ?", recordColumnNames, tc.row),
			)
			if _, err := NewMySQLStore(db).Claim(context.Background(), "r1"); err != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestMySQLStoreMarkFailedMissing(t *testing.T) {
	db, drv := mysqltest.NewDB(t, mysqltest.Exec("UPDATE intent_records SET status = ?, terminal = ?", 0))
	err := NewMySQLStore(db).MarkFailed(context.Background(), "missing", CodeIntentProcessing, "boom", true, nil)
	if !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if args := drv.Calls()[0].Args; args[1] != true || args[2] != "boom" {
		t.Fatalf("unexpected args %+v", args)
	}
}

func TestMySQLStoreListBuildsFilters(t *testing.T) {
	db, drv := mysqltest.NewDB(t,
		mysqltest.Query("FROM intent_records WHERE status IN (?,?) AND mandate_id = ? AND result IS NOT NULL "+
			"ORDER BY updated_at ASC, created_at ASC, id ASC LIMIT ? OFFSET ?", recordColumnNames,
			storedRow("r1", "confirmed", 1, 3, 0, nil, `{"adapter":"erc20-transfer","tx_hashes":["0xaa"]}`)),
	)
	records, err := NewMySQLStore(db).List(context.Background(), BuildListOptions(
		WithStatuses(StatusConfirmed, StatusSubmitted),
		WithMandate("m1"),
		WithResultPresence(true),
		WithSortOrder(SortByUpdatedAsc),
		WithLimit(5),
	))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 1 || records[0].Result == nil || records[0].Result.TxHashes[0] != "0xaa" {
		t.Fatalf("unexpected records %+v", records)
	}
	args := drv.Calls()[0].Args
	if len(args) != 5 || args[2] != "m1" || args[3] != int64(5) || args[4] != int64(0) {
		t.Fatalf("unexpected args %+v", args)
	}
}

func TestMySQLStoreStatsAggregates(t *testing.T) {
	db, _ := mysqltest.NewDB(t,
		mysqltest.Query("FROM intent_records WHERE agent = ? GROUP BY status",
			[]string{"status", "count", "oldest", "newest"},
			[]driver.Value{"pending", int64(2), int64(100), int64(150)},
			[]driver.Value{"rejected", int64(1), int64(90), int64(90)},
		),
	)
	stats, err := NewMySQLStore(db).Stats(context.Background(), BuildListOptions(WithAgent(agentAddr)))
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 3 || stats.Pending != 2 || stats.Rejected != 1 {
		t.Fatalf("unexpected counts %+v", stats)
	}
	if stats.OldestUpdatedAt != 90 || stats.NewestUpdatedAt != 150 {
		t.Fatalf("unexpected bounds %+v", stats)
	}
}
