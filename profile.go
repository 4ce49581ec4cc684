package main

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// profileResponseFor resolves targets for p, taking the last days' training into
// account for the macro split.
func (h *Handler) profileResponseFor(c *gin.Context, p profile) profileResponse {
	recent, err := h.store.RecentCheckins(c, p.UserID, 3)
	if err != nil {
		recent = nil
	}
	return profileResponse{
		profile: p,
		Targets: resolveTargets(p, macroOptionsFromCheckins(recent, h.now())),
	}
}

// getProfile returns the profile plus computed TDEE, targets and ranges.
// GET /api/profile. 404 means onboarding has not happened yet.
func (h *Handler) getProfile(c *gin.Context) {
	p, err := h.store.GetProfile(c, c.GetInt("user_id"))
	if err != nil {
		h.storeError(c, err, "profile not found", "failed to fetch profile")
		return
	}
	c.JSON(http.StatusOK, h.profileResponseFor(c, p))
}

// putProfile writes the whole profile and marks onboarding complete.
// PUT /api/profile.
func (h *Handler) putProfile(c *gin.Context) {
	var body profileRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		apiError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validateProfileRequest(body); err != nil {
		apiError(c, http.StatusBadRequest, err.Error())
		return
	}

	p, err := h.store.UpsertProfile(c, profile{
		UserID:              c.GetInt("user_id"),
		Goal:                body.Goal,
		Age:                 body.Age,
		Gender:              body.Gender,
		HeightCM:            body.HeightCM,
		WeightKG:            body.WeightKG,
		ActivityLevel:       body.ActivityLevel,
		TrainingDaysPerWeek: body.TrainingDaysPerWeek,
		TargetCaloriesMin:   body.TargetCaloriesMin,
		TargetCaloriesMax:   body.TargetCaloriesMax,
		TargetProteinMin:    body.TargetProteinMin,
		TargetProteinMax:    body.TargetProteinMax,
		ReminderOptIn:       body.ReminderOptIn,
		OnboardingComplete:  true,
	})
	if err != nil {
		h.storeError(c, err, "profile not found", "failed to save profile")
		return
	}
	c.JSON(http.StatusOK, h.profileResponseFor(c, p))
}

// patchProfile updates only the provided profile fields.
// PATCH /api/profile. Uses pointer fields in the request body to distinguish
// "not provided" from zero.
func (h *Handler) patchProfile(c *gin.Context) {
	var body profilePatch
	if err := c.ShouldBindJSON(&body); err != nil {
		apiError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.empty() {
		apiError(c, http.StatusBadRequest, "no fields to update")
		return
	}
	if err := validateProfilePatch(body); err != nil {
		apiError(c, http.StatusBadRequest, err.Error())
		return
	}

	p, err := h.store.PatchProfile(c, c.GetInt("user_id"), body)
	if err != nil {
		h.storeError(c, err, "profile not found", "failed to update profile")
		return
	}
	c.JSON(http.StatusOK, h.profileResponseFor(c, p))
}

/* ─── Validation ─────────────────────────────────────────────────────── */

func validateGoal(goal string) error {
	if !validGoals[goal] {
		return errors.New("goal must be one of: cut, lean-bulk, recomp, maintain")
	}
	return nil
}

func validateActivityLevel(level string) error {
	if _, ok := activityFactors[level]; !ok {
		return errors.New("activity_level must be one of: sitzend, leicht-aktiv, aktiv")
	}
	return nil
}

func validateBetween[T int | float64](name string, v, lo, hi T) error {
	if v < lo || v > hi {
		return fmt.Errorf("%s must be between %v and %v", name, lo, hi)
	}
	return nil
}

// validateRange checks an optional explicit target range: bounds in [lo, hi]
// and min ≤ max when both are given.
func validateRange(name string, minV, maxV *int, lo, hi int) error {
	if minV != nil {
		if err := validateBetween(name+"_min", *minV, lo, hi); err != nil {
			return err
		}
	}
	if maxV != nil {
		if err := validateBetween(name+"_max", *maxV, lo, hi); err != nil {
			return err
		}
	}
	if minV != nil && maxV != nil && *minV > *maxV {
		return fmt.Errorf("%s_min must not exceed %s_max", name, name)
	}
	return nil
}

func validateProfileRequest(r profileRequest) error {
	checks := []error{
		validateGoal(r.Goal),
		validateActivityLevel(r.ActivityLevel),
		validateBetween("age", r.Age, 14, 100),
		validateBetween("height_cm", r.HeightCM, 100, 250),
		validateBetween("weight_kg", r.WeightKG, 20, 400),
		validateBetween("training_days_per_week", r.TrainingDaysPerWeek, 0, 7),
		validateRange("target_calories", r.TargetCaloriesMin, r.TargetCaloriesMax, 800, 6000),
		validateRange("target_protein", r.TargetProteinMin, r.TargetProteinMax, 20, 500),
	}
	for _, err := range checks {
		if err != nil {
			return err
		}
	}
	if r.Gender == "" {
		return errors.New("gender is required")
	}
	return nil
}

func validateProfilePatch(p profilePatch) error {
	var checks []error
	if p.Goal != nil {
		checks = append(checks, validateGoal(*p.Goal))
	}
	if p.ActivityLevel != nil {
		checks = append(checks, validateActivityLevel(*p.ActivityLevel))
	}
	if p.Age != nil {
		checks = append(checks, validateBetween("age", *p.Age, 14, 100))
	}
	if p.HeightCM != nil {
		checks = append(checks, validateBetween("height_cm", *p.HeightCM, 100, 250))
	}
	if p.WeightKG != nil {
		checks = append(checks, validateBetween("weight_kg", *p.WeightKG, 20, 400))
	}
	if p.TrainingDaysPerWeek != nil {
		checks = append(checks, validateBetween("training_days_per_week", *p.TrainingDaysPerWeek, 0, 7))
	}
	if p.Gender != nil && *p.Gender == "" {
		checks = append(checks, errors.New("gender must not be empty"))
	}
	checks = append(checks,
		validateRange("target_calories", p.TargetCaloriesMin, p.TargetCaloriesMax, 800, 6000),
		validateRange("target_protein", p.TargetProteinMin, p.TargetProteinMax, 20, 500),
	)
	for _, err := range checks {
		if err != nil {
			return err
		}
	}
	return nil
}
