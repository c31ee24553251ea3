package storage

import "testing"

func TestCleanKey(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "f1/drivers.parquet", want: "f1/drivers.parquet"},
		{in: " /f1//results/part-0.parquet ", want: "f1/results/part-0.parquet"},
		{in: "f1/./schema.yaml", want: "f1/schema.yaml"},
		{in: "", wantErr: true},
		{in: "/", wantErr: true},
		{in: "../secrets", wantErr: true},
		{in: "f1/../../secrets", wantErr: true},
	}
	for _, tc := range cases {
		got, err := CleanKey(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("CleanKey(%q) expected error, got %q", tc.in, got)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("CleanKey(%q) = %q, %v; want %q", tc.in, got, err, tc.want)
		}
	}
}

func TestSourceHelpers(t *testing.T) {
	if !IsPrefix("f1/results/") || IsPrefix("f1/results.parquet") {
		t.Fatal("IsPrefix mismatch")
	}
	if !IsParquetKey("f1/results/part-0.PARQUET") || IsParquetKey("f1/results/_SUCCESS") {
		t.Fatal("IsParquetKey mismatch")
	}
}

func TestSnapshotFileName(t *testing.T) {
	name, err := SnapshotFileName("driver_standings", 3)
	if err != nil {
		t.Fatalf("SnapshotFileName() error = %v", err)
	}
	if name != "driver_standings-00003.parquet" {
		t.Fatalf("SnapshotFileName() = %q", name)
	}
}

func TestSnapshotFileNameRejectsInvalidComponent(t *testing.T) {
	if _, err := SnapshotFileName("../oops", 1); err == nil {
		t.Fatal("expected invalid component error")
	}
	if _, err := SnapshotFileName("drivers", -1); err == nil {
		t.Fatal("expected invalid index error")
	}
}
