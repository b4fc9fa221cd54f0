package models

// Database schema overview:
// 1. users - account, credit balance and active flag
// 2. refresh_tokens - hashed refresh tokens for cookie auth
// 3. resumes - resume references a session may point at
// 4. sessions - interview sessions and their lifecycle status
// 5. messages - session transcript
// 6. credit_transactions - append-only credit ledger
// 7. credit_packages - purchasable credit bundles
// 8. payments - purchase attempts keyed by processor reference
