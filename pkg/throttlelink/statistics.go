// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Spoorlab

package throttlelink

import (
	"fmt"
	"strings"
	"time"
)

// Statistics tracks link frame statistics and error rates
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalFrames      uint64
	ValidFrames      uint64
	CRCErrors        uint64
	DecodeErrors     uint64
	MalformedFrames  uint64
	MissingFields    uint64
	RangeViolations  uint64
	RejectedCommands uint64

	// Rates (calculated)
	FrameRate float64 // frames/sec
	ErrorRate float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update updates statistics based on a frame and its errors
func (s *Statistics) Update(msg *Message, decodeErr error, validationErrors []ValidationError) {
	s.TotalFrames++

	if decodeErr != nil {
		if strings.HasPrefix(decodeErr.Error(), "CRC mismatch") {
			s.CRCErrors++
		} else {
			// Other decode errors (framing, overflow, etc.)
			s.DecodeErrors++
		}
		return // Don't process the frame further if decode failed
	}

	if len(validationErrors) > 0 {
		s.MalformedFrames++
		for _, err := range validationErrors {
			switch err.Type {
			case AnomalyMissingField:
				s.MissingFields++
			case AnomalyInvalidAddress, AnomalyInvalidSpeed, AnomalyInvalidFunction, AnomalyInvalidValue:
				s.RangeViolations++
			}
		}
	} else {
		s.ValidFrames++
	}

	s.LastUpdateTime = time.Now()
}

// CalculateRates calculates frame and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.FrameRate = float64(s.TotalFrames) / elapsed
		errorCount := s.CRCErrors + s.DecodeErrors + s.MalformedFrames
		s.ErrorRate = float64(errorCount) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	var validPercent, crcErrorPercent, decodeErrorPercent, malformedPercent float64
	if s.TotalFrames > 0 {
		validPercent = float64(s.ValidFrames) * 100.0 / float64(s.TotalFrames)
		crcErrorPercent = float64(s.CRCErrors) * 100.0 / float64(s.TotalFrames)
		decodeErrorPercent = float64(s.DecodeErrors) * 100.0 / float64(s.TotalFrames)
		malformedPercent = float64(s.MalformedFrames) * 100.0 / float64(s.TotalFrames)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Link Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Frames:    %8d\n", s.TotalFrames)
	result += fmt.Sprintf("Valid Frames:    %8d (%.1f%%)\n", s.ValidFrames, validPercent)

	if s.CRCErrors > 0 {
		result += fmt.Sprintf("CRC Errors:      %8d (%.1f%%)\n", s.CRCErrors, crcErrorPercent)
	}
	if s.DecodeErrors > 0 {
		result += fmt.Sprintf("Decode Errors:   %8d (%.1f%%)\n", s.DecodeErrors, decodeErrorPercent)
	}
	if s.MalformedFrames > 0 {
		result += fmt.Sprintf("Malformed:       %8d (%.1f%%)\n", s.MalformedFrames, malformedPercent)
		if s.MissingFields > 0 {
			result += fmt.Sprintf("  Missing Fields:   %5d\n", s.MissingFields)
		}
		if s.RangeViolations > 0 {
			result += fmt.Sprintf("  Range Violations: %5d\n", s.RangeViolations)
		}
	}
	if s.RejectedCommands > 0 {
		result += fmt.Sprintf("Rejected Cmds:   %8d\n", s.RejectedCommands)
	}

	result += fmt.Sprintf("Frame Rate:      %8.1f frames/sec\n", s.FrameRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	now := time.Now()
	s.StartTime = now
	s.LastUpdateTime = now
	s.TotalFrames = 0
	s.ValidFrames = 0
	s.CRCErrors = 0
	s.DecodeErrors = 0
	s.MalformedFrames = 0
	s.MissingFields = 0
	s.RangeViolations = 0
	s.RejectedCommands = 0
	s.FrameRate = 0
	s.ErrorRate = 0
}
