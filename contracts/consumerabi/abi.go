package consumerabi

// Fulfilment functions of the consumer contract
const FulfillABI = `
[{"type":"function","name":"fulfillRequest",
  "inputs":[
    {"name":"requestId","type":"bytes32"},
    {"name":"response","type":"string"},
    {"name":"playerIndex","type":"uint256"}],
  "outputs":[]},
 {"type":"function","name":"firstFulfillment",
  "inputs":[
    {"name":"requestId","type":"bytes32"},
    {"name":"response","type":"string"}],
  "outputs":[]},
 {"type":"function","name":"fulfillForecast",
  "inputs":[
    {"name":"requestId","type":"bytes32"},
    {"name":"response","type":"string"}],
  "outputs":[]},
 {"type":"function","name":"fulfillRandom",
  "inputs":[
    {"name":"requestId","type":"bytes32"},
    {"name":"response","type":"string"}],
  "outputs":[]}]`

// Request events
const RequestEventsABI = `
[{"type":"event","name":"FirstRequest","inputs":[
    {"name":"requestId","type":"bytes32","indexed":false},
    {"name":"playerIndex","type":"uint256","indexed":false}]},
 {"type":"event","name":"RequestOption","inputs":[
    {"name":"requestId","type":"bytes32","indexed":false},
    {"name":"playerTopic","type":"string","indexed":false},
    {"name":"playerIndex","type":"uint256","indexed":false},
    {"name":"option","type":"string","indexed":false}]},
 {"type":"event","name":"RequestForecast","inputs":[
    {"name":"requestId","type":"bytes32","indexed":false},
    {"name":"tokenPrices","type":"uint256[3]","indexed":false},
    {"name":"player1","type":"uint256[3]","indexed":false},
    {"name":"player2","type":"uint256[3]","indexed":false},
    {"name":"player3","type":"uint256[3]","indexed":false}]},
 {"type":"event","name":"RandomRequest","inputs":[
    {"name":"requestId","type":"bytes32","indexed":false},
    {"name":"eventDescriptor","type":"string","indexed":false},
    {"name":"price","type":"uint256","indexed":false}]}]`

const (
	MethodFulfillRequest   = "fulfillRequest"
	MethodFirstFulfillment = "firstFulfillment"
	MethodFulfillForecast  = "fulfillForecast"
	MethodFulfillRandom    = "fulfillRandom"
)
