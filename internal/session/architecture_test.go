package session

import (
	"testing"

	"tutordesk/testutil"
)

func TestGateUsesIdentityContract(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.InfraImportForbidden, "the gate sees identity through domain.IdentityProvider")
}
