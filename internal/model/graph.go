/*
Copyright 2026 The tac-webbuilder Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package model

import "fmt"

// ValidateDAG checks that every phase's DependsOn references an existing
// sibling phase_number and that the resulting graph has no cycle. It is
// pure and does not touch the store; /submit calls it before any insert.
func ValidateDAG(phases []NewPhaseInput) error {
	numbers := make(map[int]struct{}, len(phases))
	for _, p := range phases {
		if _, dup := numbers[p.PhaseNumber]; dup {
			return fmt.Errorf("duplicate phase_number %d", p.PhaseNumber)
		}
		numbers[p.PhaseNumber] = struct{}{}
	}
	for _, p := range phases {
		for _, dep := range p.DependsOn {
			if _, ok := numbers[dep]; !ok {
				return fmt.Errorf("phase %d depends on unknown phase_number %d", p.PhaseNumber, dep)
			}
			if dep == p.PhaseNumber {
				return fmt.Errorf("phase %d depends on itself", p.PhaseNumber)
			}
		}
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[int]int, len(phases))
	byNumber := make(map[int]NewPhaseInput, len(phases))
	for _, p := range phases {
		byNumber[p.PhaseNumber] = p
	}

	var visit func(n int) error
	visit = func(n int) error {
		switch color[n] {
		case black:
			return nil
		case gray:
			return fmt.Errorf("dependency cycle detected at phase %d", n)
		}
		color[n] = gray
		for _, dep := range byNumber[n].DependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}
		color[n] = black
		return nil
	}

	for _, p := range phases {
		if err := visit(p.PhaseNumber); err != nil {
			return err
		}
	}
	return nil
}
