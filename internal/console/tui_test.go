// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package console

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/insplane/insfleetd/internal/logging"
)

func TestHelpCommandSetsLastLine(t *testing.T) {
	client, _ := dialedPair(t)
	m := NewModel(New(client, logging.New(logging.Config{Level: logging.LevelCritical})))

	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("h")})
	got := updated.(Model)
	assert.Contains(t, got.lastLine, "commands:")
}

func TestQuitCommandReturnsQuitCmd(t *testing.T) {
	client, _ := dialedPair(t)
	m := NewModel(New(client, logging.New(logging.Config{Level: logging.LevelCritical})))

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	msg := cmd()
	_, ok := msg.(tea.QuitMsg)
	assert.True(t, ok)
}

func TestCloseCommandStaysInCommandModeWithNoOpenSockets(t *testing.T) {
	client, _ := dialedPair(t)
	c := New(client, logging.New(logging.Config{Level: logging.LevelCritical}))

	m := NewModel(c)
	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("c")})
	got := updated.(Model)
	assert.Equal(t, modeCommand, got.mode, "no open sockets yet, so 'c' stays in command mode")
}

func TestCloseIndexModeAcceptsDigitsAndBackspace(t *testing.T) {
	m := Model{mode: modeCloseIndex}

	m2, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("4")})
	m = m2.(Model)
	m2, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("2")})
	m = m2.(Model)
	assert.Equal(t, "42", m.indexInput)

	m2, _ = m.Update(tea.KeyMsg{Type: tea.KeyBackspace})
	m = m2.(Model)
	assert.Equal(t, "4", m.indexInput)

	m2, _ = m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	m = m2.(Model)
	assert.Equal(t, modeCommand, m.mode)
}
