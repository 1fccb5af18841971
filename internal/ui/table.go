package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// DeviceTableItem represents one capture device in the listing
type DeviceTableItem struct {
	Index int
	Kind  string
	Label string
	ID    string
}

// DeviceTable renders the capture device listing using lipgloss/table
type DeviceTable struct {
	items []DeviceTableItem
}

// NewDeviceTable creates a new device table
func NewDeviceTable(items []DeviceTableItem) *DeviceTable {
	return &DeviceTable{items: items}
}

// View renders the table as a string
func (t *DeviceTable) View() string {
	if len(t.items) == 0 {
		return MutedStyle.Render("No capture devices found")
	}

	headers := []string{"#", "Kind", "Label", "ID"}

	var rows [][]string
	for _, item := range t.items {
		rows = append(rows, []string{
			fmt.Sprintf("%d", item.Index),
			item.Kind,
			item.Label,
			item.ID,
		})
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})

	return tbl.Render()
}

// Render outputs the table directly to stdout
func (t *DeviceTable) Render() {
	fmt.Println(t.View())
}

func RenderDeviceTable(items []DeviceTableItem) {
	fmt.Println(NewDeviceTable(items).View())
}

// RoomInfo shows the consultation room a participant is joining
type RoomInfo struct {
	RoomID   string
	RoomLink string
}

func NewRoomInfo(roomID, roomLink string) *RoomInfo {
	return &RoomInfo{
		RoomID:   roomID,
		RoomLink: roomLink,
	}
}

func (r *RoomInfo) View() string {
	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.DoubleBorder()).
		BorderForeground(Success).
		Padding(1, 2)

	content := fmt.Sprintf("%s Consultation Room\n\n%s Room ID:    %s\n%s Web Link:   %s",
		IconRoom,
		IconPhone, BoldStyle.Foreground(Primary).Render(r.RoomID),
		IconWeb, MutedStyle.Render(r.RoomLink),
	)

	return boxStyle.Render(content)
}
