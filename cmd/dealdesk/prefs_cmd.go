package main

import (
	"fmt"
	"sort"

	"github.com/fentz26/dealdesk/internal/models"
	"github.com/spf13/cobra"
)

var prefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "Show or change display preferences",
	RunE:  runPrefsShow,
}

var prefsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Change display preferences",
	RunE:  runPrefsSet,
}

var (
	prefFontSize   int
	prefPalette    string
	prefPanelWidth int
)

func init() {
	prefsCmd.AddCommand(prefsSetCmd)

	prefsSetCmd.Flags().IntVar(&prefFontSize, "font-size", 0, "Font size")
	prefsSetCmd.Flags().StringVar(&prefPalette, "palette", "", "Palette: default, light, high-contrast")
	prefsSetCmd.Flags().IntVar(&prefPanelWidth, "panel-width", 0, "Activity panel width in columns")
}

func printPrefs(p models.Preferences) {
	fmt.Printf("Font size:    %d\n", p.FontSize)
	fmt.Printf("Palette:      %s\n", p.Palette)
	fmt.Printf("Panel width:  %d\n", p.PanelWidth)
	if len(p.Collapsed) > 0 {
		ids := make([]string, 0, len(p.Collapsed))
		for id, c := range p.Collapsed {
			if c {
				ids = append(ids, id)
			}
		}
		sort.Strings(ids)
		fmt.Printf("Collapsed:    %v\n", ids)
	}
}

func runPrefsShow(cmd *cobra.Command, args []string) error {
	var p models.Preferences
	if err := apiGet("/prefs", &p); err != nil {
		return err
	}
	printPrefs(p)
	return nil
}

func runPrefsSet(cmd *cobra.Command, args []string) error {
	var p models.Preferences
	if err := apiGet("/prefs", &p); err != nil {
		return err
	}
	if cmd.Flags().Changed("font-size") {
		p.FontSize = prefFontSize
	}
	if cmd.Flags().Changed("palette") {
		p.Palette = prefPalette
	}
	if cmd.Flags().Changed("panel-width") {
		p.PanelWidth = prefPanelWidth
	}
	var saved models.Preferences
	if _, err := apiSend("PUT", "/prefs", p, &saved); err != nil {
		return err
	}
	printPrefs(saved)
	return nil
}
