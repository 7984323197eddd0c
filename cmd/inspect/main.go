// cmd/inspect prints the persisted registry of the configured store backend
// as tables. It never writes.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"slices"
	"strconv"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"github.com/jason-s-yu/courier/internal/config"
	"github.com/jason-s-yu/courier/internal/models"
	"github.com/jason-s-yu/courier/internal/storage"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
)

func main() {
	room := flag.String("room", "", "show the players of one room")
	flag.Parse()

	if err := run(*room); err != nil {
		fmt.Fprintf(os.Stderr, "courier-inspect: %v\n", err)
		os.Exit(1)
	}
}

func run(roomID string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := cfg.Logger()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, closer, err := storage.Open(ctx, cfg, true, logger)
	if err != nil {
		return err
	}
	defer closer.Close()

	snap, err := store.Load(ctx)
	if errors.Is(err, models.ErrNoSnapshot) {
		fmt.Println("no registry snapshot stored")
		return nil
	}
	if err != nil {
		return err
	}

	if roomID != "" {
		rs, ok := snap.Rooms[roomID]
		if !ok {
			return fmt.Errorf("room %q not found", roomID)
		}
		renderPlayers(rs)
		return nil
	}
	renderRooms(snap)
	fmt.Println()
	renderUsers(snap)
	return nil
}

func newTable(header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	return table
}

func fmtTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.DateTime)
}

func renderRooms(snap *models.RegistrySnapshot) {
	rooms := lo.Values(snap.Rooms)
	slices.SortFunc(rooms, func(a, b models.RoomSnapshot) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	table := newTable([]string{"Room", "Status", "Players", "Creator", "Created", "Ends", "Orders"})
	for _, r := range rooms {
		table.Append([]string{
			r.RoomID,
			string(r.Status),
			fmt.Sprintf("%d/%d", len(r.Players), r.MaxPlayers),
			strconv.FormatInt(r.CreatorID, 10),
			fmtTime(&r.CreatedAt),
			fmtTime(r.EndTime),
			strconv.Itoa(len(r.CurrentOrders)),
		})
	}
	table.Render()
}

func renderUsers(snap *models.RegistrySnapshot) {
	ids := lo.Keys(snap.UserSessions)
	slices.Sort(ids)

	table := newTable([]string{"User", "Lifetime orders", "Notes"})
	for _, id := range ids {
		p := snap.UserSessions[id]
		table.Append([]string{
			strconv.FormatInt(id, 10),
			strconv.Itoa(p.TotalOrders),
			strconv.Itoa(len(p.Notes)),
		})
	}
	table.Render()
}

func renderPlayers(r models.RoomSnapshot) {
	table := newTable([]string{"User", "Name", "Session orders", "Total orders", "Joined", "Last activity"})
	for _, p := range r.Players {
		table.Append([]string{
			strconv.FormatInt(p.ID, 10),
			p.Name(),
			strconv.Itoa(p.OrdersTaken),
			strconv.Itoa(p.TotalOrders),
			fmtTime(&p.JoinedAt),
			fmtTime(&p.LastActivity),
		})
	}
	table.Render()
}
