package main

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"

	"github.com/yok-tottii/EzLiveTutor/internal/audio"
)

// runDevices prints the audio devices PortAudio can open
func runDevices(w io.Writer) error {
	system, err := audio.NewPortAudioSystem()
	if err != nil {
		return fmt.Errorf("failed to initialize audio: %w", err)
	}
	defer system.Close()

	devices, err := system.ListDevices()
	if err != nil {
		return fmt.Errorf("failed to list devices: %w", err)
	}

	if len(devices) == 0 {
		fmt.Fprintln(w, "No audio devices found.")
		return nil
	}

	renderDevices(w, devices)
	return nil
}

func renderDevices(w io.Writer, devices []audio.Device) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"ID", "Name", "In", "Out", "Rate", "Default"})
	table.SetBorder(false)
	table.SetCenterSeparator("|")
	table.SetColumnSeparator("|")
	table.SetRowSeparator("-")
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)

	for _, d := range devices {
		table.Append(deviceRow(d))
	}

	table.Render()
}

func deviceRow(d audio.Device) []string {
	def := ""
	switch {
	case d.IsDefaultInput && d.IsDefaultOutput:
		def = "input, output"
	case d.IsDefaultInput:
		def = "input"
	case d.IsDefaultOutput:
		def = "output"
	}

	return []string{
		fmt.Sprintf("%d", d.ID),
		d.Name,
		fmt.Sprintf("%d", d.MaxInputChannels),
		fmt.Sprintf("%d", d.MaxOutputChannels),
		fmt.Sprintf("%.0f Hz", d.DefaultSampleRate),
		def,
	}
}
