package main

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/dd0wney/cluso-txkv/pkg/shell"
	"github.com/dd0wney/cluso-txkv/pkg/txdb"
)

func setupModel(t *testing.T) (model, *txdb.DB) {
	t.Helper()
	db, err := txdb.Open("", txdb.DefaultOptions())
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	session := shell.NewSession(db, nil)
	t.Cleanup(func() {
		session.Close()
		db.Close()
	})
	m := initialModel(db, session)
	next, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	return next.(model), db
}

func submit(t *testing.T, m model, line string) model {
	t.Helper()
	m.input.SetValue(line)
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	return next.(model)
}

func TestModelExecutesCommands(t *testing.T) {
	m, db := setupModel(t)

	m = submit(t, m, "BEGIN")
	if !m.session.InTransaction() {
		t.Fatal("Expected open transaction")
	}
	if !strings.Contains(m.View(), "TXN") {
		t.Error("Expected transaction badge in view")
	}

	m = submit(t, m, "PUT greeting 'hello world'")
	m = submit(t, m, "COMMIT")
	if m.messageErr {
		t.Fatalf("Unexpected error: %s", m.message)
	}

	got, err := db.Get([]byte("greeting"))
	if err != nil || string(got) != "hello world" {
		t.Fatalf("Expected committed value, got %q (%v)", got, err)
	}

	m = submit(t, m, "SCAN")
	if rows := m.results.Rows(); len(rows) != 1 || rows[0][1] != "hello world" {
		t.Fatalf("Expected one result row, got %v", rows)
	}
	if len(m.history) != 4 {
		t.Errorf("Expected 4 history entries, got %d", len(m.history))
	}
}

func TestModelReportsErrors(t *testing.T) {
	m, _ := setupModel(t)

	m = submit(t, m, "COMMIT")
	if !m.messageErr {
		t.Fatal("Expected error message for commit without transaction")
	}
	if !strings.Contains(m.View(), "no active transaction") {
		t.Error("Expected error text in view")
	}
}

func TestModelSwitchesViews(t *testing.T) {
	m, _ := setupModel(t)

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyTab})
	m = next.(model)
	if m.currentView != statsView {
		t.Fatalf("Expected stats view, got %d", m.currentView)
	}
	if !strings.Contains(m.View(), "Latest sequence") {
		t.Error("Expected stats in view")
	}

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyTab})
	if next.(model).currentView != consoleView {
		t.Fatal("Expected to wrap back to the console")
	}
}

func TestModelExit(t *testing.T) {
	m, _ := setupModel(t)

	m.input.SetValue("EXIT")
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil {
		t.Fatal("Expected quit command")
	}
	if !next.(model).quitting {
		t.Error("Expected model to be quitting")
	}
}
