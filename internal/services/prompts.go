package services

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/compasshq/compass-backend/internal/types"
)

// Prompt builders and output schemas for the plan pipeline. Each stage owns
// one schema; the assistant-backed stages (draft, synthesis, nudge) send a
// single JSON payload instead, since their instructions live on the
// externally managed assistant resource.

const frameSystemPrompt = `You are a goal-planning coach. Given a goal, a target date and a ` +
	`personality summary, define what success and failure look like, list anti-patterns ` +
	`this person should avoid, propose a short goal name, and judge whether the target ` +
	`date is realistic. Be concrete and specific to the goal.`

func frameUserPrompt(goalDescription, targetDate, personalitySummary string) string {
	return fmt.Sprintf(
		"Goal: %s\nTarget date: %s\nPersonality summary:\n%s\n\nReturn the goal frame.",
		goalDescription, targetDate, personalitySummary,
	)
}

func frameSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"goal_name":        map[string]any{"type": "string"},
			"success_criteria": map[string]any{"type": "string"},
			"failure_criteria": map[string]any{"type": "string"},
			"anti_patterns":    map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"date_realism":     map[string]any{"type": "string", "enum": []string{"too_short", "reasonable", "generous"}},
			"warning":          map[string]any{"type": "string"},
		},
		"required":             []string{"goal_name", "success_criteria", "failure_criteria", "anti_patterns", "date_realism", "warning"},
		"additionalProperties": false,
	}
}

const assumptionsSystemPrompt = `You infer the unstated constraints behind a personal goal. Given the goal, ` +
	`target date, time pressure, and an Enneagram personality profile, list practical ` +
	`constraints, risks specific to this personality type, and explicit non-goals that ` +
	`keep the plan focused.`

func assumptionsUserPrompt(goalDescription, targetDate string, hasTimePressure bool, personalitySummary, personalityType string) string {
	pressure := "no stated time pressure"
	if hasTimePressure {
		pressure = "the user reports time pressure"
	}
	return fmt.Sprintf(
		"Goal: %s\nTarget date: %s (%s)\nEnneagram type: %s\nPersonality summary:\n%s\n\nReturn the assumptions.",
		goalDescription, targetDate, pressure, personalityType, personalitySummary,
	)
}

func assumptionsSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"constraints":       map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"personality_risks": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"non_goals":         map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
		"required":             []string{"constraints", "personality_risks", "non_goals"},
		"additionalProperties": false,
	}
}

// draftPayload is what gets posted to the milestone assistant thread. The
// assistant's own instructions ask for 5-7 ordered, non-overlapping
// milestones returned as JSON.
func draftPayload(plan *types.Plan, frame types.GoalFrame, assumptions types.Assumptions) string {
	payload := map[string]any{
		"task":                "draft_milestones",
		"goal":                plan.GoalDescription,
		"goal_name":           plan.GoalName,
		"target_date":         plan.TargetDate,
		"personality_type":    plan.PersonalityType,
		"personality_summary": plan.PersonalitySummary,
		"success_criteria":    frame.SuccessCriteria,
		"failure_criteria":    frame.FailureCriteria,
		"anti_patterns":       frame.AntiPatterns,
		"constraints":         assumptions.Constraints,
		"personality_risks":   assumptions.PersonalityRisks,
		"non_goals":           assumptions.NonGoals,
		"rules": []string{
			"Return 5 to 7 milestones as a JSON object {\"milestones\": [...]}.",
			"Each milestone needs title, description, start_date, due_date (YYYY-MM-DD), measurable_outcome.",
			"Date ranges must be chronological and non-overlapping, ending at the target date.",
			"Include a blind_spot_tip and strength_hook tailored to the personality type.",
		},
	}
	raw, _ := json.Marshal(payload)
	return string(raw)
}

const reviewSystemPrompt = `You review draft goal milestones for quality. Flag vague language, outcomes ` +
	`that cannot be measured, stale or invalid dates, overlapping date ranges, and ` +
	`missing dates. One correction string per flawed milestone, naming the milestone.`

func reviewUserPrompt(milestones []types.Milestone, personalityType string, risks []string) string {
	raw, _ := json.Marshal(milestones)
	return fmt.Sprintf(
		"Enneagram type: %s\nKnown risks: %s\n\nDraft milestones:\n%s\n\nReturn the review.",
		personalityType, strings.Join(risks, "; "), string(raw),
	)
}

func reviewSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"approved":    map[string]any{"type": "boolean"},
			"corrections": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
		"required":             []string{"approved", "corrections"},
		"additionalProperties": false,
	}
}

// synthesisPayload asks the milestone assistant for a wholesale replacement
// list that addresses every correction.
func synthesisPayload(milestones []types.Milestone, corrections []string, personalityType, targetDate string) string {
	payload := map[string]any{
		"task":             "revise_milestones",
		"personality_type": personalityType,
		"target_date":      targetDate,
		"milestones":       milestones,
		"corrections":      corrections,
		"rules": []string{
			"Return the full revised list as {\"milestones\": [...]}, not a diff.",
			"Address every correction; keep milestones that were not flagged.",
			"Date ranges must stay chronological, non-overlapping, within the target date.",
		},
	}
	raw, _ := json.Marshal(payload)
	return string(raw)
}

// nudgePayload is the single JSON message posted to the nudge assistant.
func nudgePayload(milestone types.Milestone, goalName string, personalityType int, advice string, feedback []string, daysRemaining int) string {
	payload := map[string]any{
		"task":             "write_nudge",
		"goal_name":        goalName,
		"milestone":        milestone,
		"personality_type": personalityType,
		"growth_advice":    advice,
		"prior_feedback":   feedback,
		"days_remaining":   daysRemaining,
		"rules": []string{
			"Write one short motivational message (2-4 sentences) in second person.",
			"Reference the milestone by name and the remaining days.",
			"Use the growth advice and feedback to personalize tone; never mention them verbatim.",
		},
	}
	raw, _ := json.Marshal(payload)
	return string(raw)
}
