// Package csvtable 读取带表头的 CSV，按别名定位列。
package csvtable

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

type Table struct {
	header map[string]int
	names  []string
	reader *csv.Reader
}

// New 读取表头；列名忽略大小写、首尾空白与 BOM。
func New(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	head, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("csv: empty input")
		}
		return nil, err
	}
	t := &Table{header: make(map[string]int, len(head)), reader: cr}
	for i, h := range head {
		key := normalize(h)
		t.names = append(t.names, key)
		if _, dup := t.header[key]; !dup {
			t.header[key] = i
		}
	}
	return t, nil
}

func normalize(name string) string {
	name = strings.TrimPrefix(name, "\uFEFF")
	return strings.ToLower(strings.TrimSpace(name))
}

// Column 返回第一个命中的别名所在列，找不到返回 -1。
func (t *Table) Column(aliases ...string) int {
	for _, a := range aliases {
		if idx, ok := t.header[normalize(a)]; ok {
			return idx
		}
	}
	return -1
}

// Names 规范化后的列名，按原始顺序。
func (t *Table) Names() []string {
	return append([]string(nil), t.names...)
}

// Next 读取下一行；结束时返回 io.EOF。空行被跳过。
func (t *Table) Next() (Row, error) {
	for {
		rec, err := t.reader.Read()
		if err != nil {
			return Row{}, err
		}
		if blank(rec) {
			continue
		}
		line, _ := t.reader.FieldPos(0)
		return Row{Line: line, fields: rec}, nil
	}
}

func blank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

type Row struct {
	Line   int
	fields []string
}

// Get 越界或列不存在时返回空串。
func (r Row) Get(idx int) string {
	if idx < 0 || idx >= len(r.fields) {
		return ""
	}
	return strings.TrimSpace(r.fields[idx])
}
