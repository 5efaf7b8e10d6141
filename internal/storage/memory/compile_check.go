package memory

import "contractcore/internal/storage"

// Compile-time interface checks.
var (
	_ storage.ContractStore     = (*ContractStore)(nil)
	_ storage.UserContractStore = (*UserContractStore)(nil)
	_ storage.UserStore         = (*UserStore)(nil)
)
