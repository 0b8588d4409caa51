// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/stagedreduce/backends"
	"github.com/gomlx/stagedreduce/pkg/reduction"
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Faint(false).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Faint(true).
			PaddingLeft(1).PaddingRight(1)

	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 0, 4)
)

func newPlainTable(alignments ...lipgloss.Position) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if row < 0 {
				return headerRowStyle
			}
			if row%2 == 0 {
				s = oddRowStyle
			} else {
				s = evenRowStyle
			}
			alignment := lipgloss.Left
			if col < len(alignments) {
				alignment = alignments[col]
			}
			return s.Align(alignment)
		})
}

func printPlan(cfg *config, device backends.Device, policy reduction.Policy, plan *reduction.Plan) {
	fmt.Println(titleStyle.Render("Reduction"))
	summary := newPlainTable(lipgloss.Right, lipgloss.Left)
	summary.Row("run", cfg.runID.String())
	summary.Row("device", device.Description())
	summary.Row("input", cfg.input.String())
	summary.Row("elements", humanize.Comma(int64(cfg.input.Shape.Size())))
	summary.Row("axis", strconv.Itoa(cfg.axis))
	summary.Row("operation", cfg.op.String())
	summary.Row("policy", fmt.Sprintf("tile width %d, fan-in %d", policy.TileWidth, policy.FanIn))
	summary.Row("stages", strconv.Itoa(plan.NumStages()))
	fmt.Println(summary.Render())

	fmt.Println(titleStyle.Render("Stages"))
	stages := newPlainTable(lipgloss.Right, lipgloss.Left, lipgloss.Left, lipgloss.Left, lipgloss.Right, lipgloss.Right)
	stages.Headers("#", "Operation", "Input", "Output", "Divisor", "Output Bytes")
	for _, s := range plan.Stages {
		divisor := "-"
		if s.OriginalExtent > 0 {
			divisor = humanize.Comma(int64(s.OriginalExtent))
		}
		stages.Row(strconv.Itoa(s.Index), s.Op.String(), s.Input.Shape.String(), s.Output.Shape.String(),
			divisor, humanize.Bytes(uint64(s.Output.Shape.Memory())))
	}
	fmt.Println(stages.Render())
}

func printResults(cfg *config, results *benchmarkResults) {
	fmt.Println(titleStyle.Render("Results"))
	table := newPlainTable(lipgloss.Right, lipgloss.Left)
	perRun := results.elapsed / time.Duration(results.numRuns)
	table.Row("runs", humanize.Comma(int64(results.numRuns)))
	table.Row("stages", strconv.Itoa(results.numStages))
	table.Row("time per run", perRun.String())
	if perRun > 0 {
		elementsPerSecond := float64(cfg.input.Shape.Size()) / perRun.Seconds()
		table.Row("throughput", humanize.SIWithDigits(elementsPerSecond, 2, "elements/s"))
	}
	table.Row("intermediate memory", humanize.Bytes(uint64(results.memoryRequired)))
	table.Row("memory pool", results.memoryStats.String())
	table.Row("max error", fmt.Sprintf("%.3g", results.maxError))
	fmt.Println(table.Render())
}
