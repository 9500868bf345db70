package models

import (
	"strconv"

	id "credline/pkg/domain"
)

// IdentityCreated is emitted once per subject.
type IdentityCreated struct {
	Subject  id.Address
	UniqueID id.UniqueID
}

// DocumentAdded is emitted for every appended document, including the first.
type DocumentAdded struct {
	Subject id.Address
	Hash    id.ContentHash
	Index   int
}

// IdentityVerified is emitted on every successful verification.
type IdentityVerified struct {
	Subject id.Address
	Level   int
}

// VerificationLevelUpdated is emitted only when the level actually changes.
type VerificationLevelUpdated struct {
	Subject  id.Address
	OldLevel int
	NewLevel int
}

func (e IdentityCreated) Attributes() map[string]string {
	return map[string]string{"unique_id": e.UniqueID.String()}
}

func (e DocumentAdded) Attributes() map[string]string {
	return map[string]string{"hash": string(e.Hash), "index": strconv.Itoa(e.Index)}
}

func (e IdentityVerified) Attributes() map[string]string {
	return map[string]string{"level": strconv.Itoa(e.Level)}
}

func (e VerificationLevelUpdated) Attributes() map[string]string {
	return map[string]string{
		"old_level": strconv.Itoa(e.OldLevel),
		"new_level": strconv.Itoa(e.NewLevel),
	}
}
