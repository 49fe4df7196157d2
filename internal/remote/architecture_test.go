package remote

import (
	"testing"

	"tutordesk/testutil"
)

func TestRemoteTalksToContractsOnly(t *testing.T) {
	forbidden := func(path string) bool {
		return testutil.InfraImportForbidden(path) || testutil.AdapterImportForbidden(path) || testutil.Under("internal/core")(path)
	}
	testutil.AssertNoDirectImports(t, ".", forbidden, "sync adapters reach backends through domain.DocumentStore")
}
