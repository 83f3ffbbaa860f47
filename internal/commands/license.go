package commands

import "encoding/json"

// LicenseInfo is a placeholder; no verification happens. Fields are kept in
// key order so the encoded form matches a decode and re-encode.
type LicenseInfo struct {
	Email string `json:"email"`
	Tier  string `json:"tier"`
	Valid bool   `json:"valid"`
}

func GetLicenseInfo() LicenseInfo {
	return LicenseInfo{Valid: true, Email: "user@example.com", Tier: "pro"}
}

func RemoveLicense() error {
	return nil
}

func licenseInfoJSON() (string, error) {
	raw, err := json.Marshal(GetLicenseInfo())
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func removeLicenseJSON() (string, error) {
	if err := RemoveLicense(); err != nil {
		return "", err
	}
	return "null", nil
}
