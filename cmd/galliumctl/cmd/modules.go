package cmd

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/galliumaudio/gallium/pkg/clierror"
	"github.com/galliumaudio/gallium/pkg/store"
)

var (
	modulesSave     bool
	modulesSnapshot string
)

var modulesCmd = &cobra.Command{
	Use:   "modules",
	Short: "List the firmware's module catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		if modulesSnapshot != "" {
			return showSnapshot(modulesSnapshot)
		}

		s := newEmulatorSession(time.Second)
		defer s.close()

		catalog, err := s.ctrl.ReadModuleDetails()
		if err != nil {
			return err
		}
		ver, err := s.ctrl.GetFirmwareVersion()
		if err != nil {
			return err
		}

		names := make([]string, 0, len(catalog))
		for name := range catalog {
			names = append(names, name)
		}
		sort.Strings(names)

		fmt.Printf("firmware %s, %d modules\n", ver, len(catalog))
		fmt.Printf("%-12s %-6s %-10s %s\n", "NAME", "ID", "MAX INST", "AFFINITY")
		for _, name := range names {
			e := catalog[name]
			fmt.Printf("%-12s %-6d %-10d %#x\n", e.Name, e.ModuleID, e.InstanceMaxCount, e.AffinityMask)
		}

		if !modulesSave {
			return nil
		}
		snap := store.CatalogSnapshot{
			ID:              uuid.New().String(),
			FirmwareVersion: ver.String(),
			CapturedAt:      time.Now(),
		}
		for _, name := range names {
			e := catalog[name]
			snap.Modules = append(snap.Modules, store.CatalogModule{
				Name:         e.Name,
				ModuleID:     e.ModuleID,
				InstanceMax:  e.InstanceMaxCount,
				AffinityMask: e.AffinityMask,
			})
		}
		if err := runStore.SaveCatalog(snap); err != nil {
			return err
		}
		fmt.Printf("%s saved snapshot %s\n", okFmt("ok"), dimFmt(snap.ID))
		return nil
	},
}

// showSnapshot prints a previously saved catalog snapshot.
func showSnapshot(id string) error {
	snap, err := runStore.GetCatalog(id)
	if err != nil {
		return clierror.SnapshotNotFound(id)
	}
	fmt.Printf("firmware %s, captured %s\n",
		snap.FirmwareVersion, snap.CapturedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("%-12s %-6s %-10s %s\n", "NAME", "ID", "MAX INST", "AFFINITY")
	for _, m := range snap.Modules {
		fmt.Printf("%-12s %-6d %-10d %#x\n", m.Name, m.ModuleID, m.InstanceMax, m.AffinityMask)
	}
	return nil
}

func init() {
	modulesCmd.Flags().BoolVar(&modulesSave, "save", false, "save a catalog snapshot to the database")
	modulesCmd.Flags().StringVar(&modulesSnapshot, "snapshot", "", "show a saved snapshot instead of querying firmware")
	rootCmd.AddCommand(modulesCmd)
}
