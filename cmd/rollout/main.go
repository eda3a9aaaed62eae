// rollout bulk-installs a package and its trust certificate onto remote
// Windows hosts over the administrative shares and WinRM.
//
// Usage:
//
//	rollout deploy --installer agent.msi --cert publisher.cer --inventory targets.yaml --user 'CORP\admin'
//	rollout cred set --user 'CORP\admin'
//	rollout history
package main

import "log"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	Execute()
}
