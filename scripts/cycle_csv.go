// Simulates closed-loop heating cycles against the two-lag plant and dumps
// the trajectory to CSV for plotting. Useful when tuning solver or estimator
// changes: run it before and after and diff the overshoot columns.
package main

import (
	"encoding/csv"
	"fmt"
	"os"
	"time"

	"github.com/adaptiveheat/zoneheat/internal/thermal"
)

type TargetCommand struct {
	IterationNumber int
	Value           float64
}

const step = 30 * time.Second

func SimulateCycles(iterations int, filename string, commands []TargetCommand) error {
	params := thermal.DefaultParams

	ctrl, err := thermal.NewController(thermal.Config{
		Target:     20.0,
		InitParams: &params,
	})
	if err != nil {
		return fmt.Errorf("failed to create controller: %v", err)
	}

	plant, err := thermal.NewPlant(params, 18.0)
	if err != nil {
		return fmt.Errorf("failed to create plant: %v", err)
	}

	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{"Iteration", "Seconds", "Temperature", "Target", "HeaterOn", "ProposedOnSeconds"}); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	heaterOn := false
	var offAt time.Duration
	elapsed := time.Duration(0)

	for i := range iterations {
		for _, cmd := range commands {
			if cmd.IterationNumber == i+1 {
				ctrl.SetTarget(cmd.Value)
				break
			}
		}

		temp := plant.Temperature()
		target := ctrl.Target()
		proposed := time.Duration(0)

		if heaterOn {
			if elapsed >= offAt {
				heaterOn = false
			}
		} else if temp < target-ctrl.Deadband() {
			proposed = ctrl.ProposeOnTime(temp, target)
			if proposed > 0 {
				heaterOn = true
				offAt = elapsed + proposed
			}
		}

		if err := writer.Write([]string{
			fmt.Sprintf("%d", i+1),
			fmt.Sprintf("%.0f", elapsed.Seconds()),
			fmt.Sprintf("%.3f", temp),
			fmt.Sprintf("%.2f", target),
			fmt.Sprintf("%t", heaterOn),
			fmt.Sprintf("%.0f", proposed.Seconds()),
		}); err != nil {
			return fmt.Errorf("failed to write CSV record: %v", err)
		}

		plant.Step(step, heaterOn)
		elapsed += step
	}

	return nil
}

func main() {
	commands := []TargetCommand{
		{
			IterationNumber: 400,
			Value:           22.0,
		},
	}
	SimulateCycles(1000, "zoneheat.csv", commands)
}
