package ethereum

// managerABI is the surface of the CronCat manager contract the agent calls.
// Views return flat tuples so results decode without struct reflection.
const managerABI = `[
  {"type":"function","name":"getAgent","stateMutability":"view",
   "inputs":[{"name":"account","type":"address"}],
   "outputs":[
     {"name":"status","type":"uint8"},
     {"name":"payableAccount","type":"address"},
     {"name":"balance","type":"uint256"},
     {"name":"totalTasksExecuted","type":"uint256"},
     {"name":"lastMissedSlot","type":"uint64"},
     {"name":"slotExecutionSlot","type":"uint64"},
     {"name":"slotExecutionCount","type":"uint64"}]},
  {"type":"function","name":"getInfo","stateMutability":"view",
   "inputs":[],
   "outputs":[
     {"name":"paused","type":"bool"},
     {"name":"owner","type":"address"},
     {"name":"activeAgents","type":"uint64"},
     {"name":"pendingAgents","type":"uint64"},
     {"name":"taskRatioNumerator","type":"uint64"},
     {"name":"taskRatioDenominator","type":"uint64"},
     {"name":"agentsEjectThreshold","type":"uint64"},
     {"name":"slotGranularity","type":"uint64"},
     {"name":"agentFee","type":"uint256"},
     {"name":"gasPrice","type":"uint256"}]},
  {"type":"function","name":"getAgentTasks","stateMutability":"view",
   "inputs":[{"name":"account","type":"address"}],
   "outputs":[{"name":"count","type":"uint64"},{"name":"slot","type":"uint64"}]},
  {"type":"function","name":"getTriggers","stateMutability":"view",
   "inputs":[{"name":"fromIndex","type":"uint64"},{"name":"limit","type":"uint64"}],
   "outputs":[
     {"name":"hashes","type":"bytes32[]"},
     {"name":"contracts","type":"address[]"},
     {"name":"functions","type":"string[]"},
     {"name":"arguments","type":"bytes[]"}]},
  {"type":"function","name":"proxyCall","stateMutability":"nonpayable","inputs":[],"outputs":[]},
  {"type":"function","name":"proxyConditionalCall","stateMutability":"nonpayable",
   "inputs":[{"name":"triggerHash","type":"bytes32"}],"outputs":[]},
  {"type":"function","name":"withdrawTaskBalance","stateMutability":"nonpayable","inputs":[],"outputs":[]},
  {"type":"function","name":"registerAgent","stateMutability":"payable",
   "inputs":[{"name":"payableAccount","type":"address"}],"outputs":[]},
  {"type":"function","name":"updateAgent","stateMutability":"nonpayable",
   "inputs":[{"name":"payableAccount","type":"address"}],"outputs":[]},
  {"type":"function","name":"unregisterAgent","stateMutability":"nonpayable","inputs":[],"outputs":[]}
]`

// Manager method names.
const (
	methodGetAgent             = "getAgent"
	methodGetInfo              = "getInfo"
	methodGetAgentTasks        = "getAgentTasks"
	methodGetTriggers          = "getTriggers"
	methodProxyCall            = "proxyCall"
	methodProxyConditionalCall = "proxyConditionalCall"
	methodWithdrawTaskBalance  = "withdrawTaskBalance"
	methodRegisterAgent        = "registerAgent"
	methodUpdateAgent          = "updateAgent"
	methodUnregisterAgent      = "unregisterAgent"
)

// Agent status values as stored by the manager contract.
const (
	agentStatusNone    uint8 = 0
	agentStatusPending uint8 = 1
	agentStatusActive  uint8 = 2
	agentStatusEjected uint8 = 3
)
