// Package credential caches vendor session credentials per server in the
// shared key-value store, under secure_ak_{server} and secure_ak_id_{server},
// so that the importer and every change-request worker reuse one login.
package credential
