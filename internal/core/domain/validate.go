package domain

import "regexp"

var (
	emailPattern  = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	mobilePattern = regexp.MustCompile(`^[6-9]\d{9}$`)
	panPattern    = regexp.MustCompile(`^[A-Z]{5}[0-9]{4}[A-Z]$`)
	aadharPattern = regexp.MustCompile(`^\d{12}$`)
)

// The validators below are advisory. Write paths do not call them; clients
// use them through the validate endpoint before submitting a form.

func ValidateEmail(email string) bool { return emailPattern.MatchString(email) }

func ValidateMobile(mobile string) bool { return mobilePattern.MatchString(mobile) }

func ValidatePAN(pan string) bool { return panPattern.MatchString(pan) }

func ValidateAadhar(aadhar string) bool { return aadharPattern.MatchString(aadhar) }
